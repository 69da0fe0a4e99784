package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	res := &http.Response{
		StatusCode: 201,
		Header:     map[string][]string{},
		Body:       io.NopCloser(strings.NewReader("<html>stored</html>")),
	}
	res.Header.Add("Test", "-ing")
	res.Header.Add("Content-Type", "text/html")

	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToResponse(bts, nil)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res2.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.StatusCode)
	}
	if res2.Header.Get("Test") != "-ing" || res2.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("Headers wrong %+v", res2.Header)
	}
	body, _ := io.ReadAll(res2.Body)
	if string(body) != "<html>stored</html>" {
		t.Fatalf("Body: %s", body)
	}
}

func TestBytesToResponseWithoutContentLength(t *testing.T) {
	// the format written by the response tee
	raw := "HTTP/1.1 200 OK\nContent-Type: text/html\n\n<p>hi</p>"
	res, err := BytesToResponse([]byte(raw), nil)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "<p>hi</p>" {
		t.Fatalf("Body: %s", body)
	}
}
