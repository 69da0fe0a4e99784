package tee

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSaverWritesThroughAndRecords(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("Content-Type", "text/html")
	rs.WriteHeader(http.StatusCreated)
	rs.Write([]byte("<h1>hi</h1>"))

	if rr.Code != http.StatusCreated || rr.Body.String() != "<h1>hi</h1>" {
		t.Fatalf("Client got %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if rs.StatusCode() != http.StatusCreated {
		t.Fatalf("Status is %d", rs.StatusCode())
	}

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(rs.Response())), nil)
	if err != nil {
		t.Fatalf("Recorded response unreadable: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusCreated || string(body) != "<h1>hi</h1>" {
		t.Fatalf("Recorded %d %s", res.StatusCode, body)
	}
}

func TestSaverImplicitStatus(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Write([]byte("body"))
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
}

// headerLog records the status codes and the headers sent with each.
type headerLog struct {
	header  http.Header
	codes   []int
	headers []http.Header
	body    bytes.Buffer
}

func (l *headerLog) Header() http.Header { return l.header }

func (l *headerLog) WriteHeader(code int) {
	l.codes = append(l.codes, code)
	l.headers = append(l.headers, l.header.Clone())
}

func (l *headerLog) Write(b []byte) (int, error) { return l.body.Write(b) }

func TestSaverPassesOnInformationalResponses(t *testing.T) {
	log := &headerLog{header: http.Header{}}
	rs := NewResponseSaver(log)

	rs.Header().Set("Link", "</app.css>; rel=preload")
	rs.WriteHeader(http.StatusEarlyHints)
	rs.Header().Del("Link")
	rs.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
	rs.WriteHeader(http.StatusOK)
	rs.Write([]byte("<h1>hi</h1>"))

	if len(log.codes) != 2 || log.codes[0] != http.StatusEarlyHints || log.codes[1] != http.StatusOK {
		t.Fatalf("Client got statuses %v", log.codes)
	}
	if link := log.headers[0].Get("Link"); link == "" {
		t.Fatal("Early hints sent without Link header")
	}
	if link := log.headers[1].Get("Link"); link != "" {
		t.Fatalf("Final response carries hint header %s", link)
	}
	if ct := log.headers[1].Get("Content-Type"); ct != "text/html; charset=iso-8859-1" {
		t.Fatalf("Final Content-Type is %s", ct)
	}
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(rs.Response())), nil)
	if err != nil {
		t.Fatalf("Recorded response unreadable: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(body) != "<h1>hi</h1>" {
		t.Fatalf("Recorded %d %s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/html; charset=iso-8859-1" {
		t.Fatalf("Recorded Content-Type is %s", ct)
	}
}

func TestSaverPassesOnTrailers(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("Trailer", "X-Checksum")
	rs.WriteHeader(http.StatusOK)
	rs.Write([]byte("body"))
	rs.Header().Set("X-Checksum", "abc")
	rs.Header().Set(http.TrailerPrefix+"X-Late", "def")

	res := rr.Result()
	io.ReadAll(res.Body)
	if v := res.Trailer.Get("X-Checksum"); v != "abc" {
		t.Fatalf("Trailer X-Checksum is %q", v)
	}
	if v := res.Trailer.Get("X-Late"); v != "def" {
		t.Fatalf("Trailer X-Late is %q", v)
	}
}

func TestSaverUnwraps(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	if rs.Unwrap() != http.ResponseWriter(rr) {
		t.Fatal("Unwrap does not return the underlying writer")
	}
}
