package cachekey

import (
	"net/http"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://dev.localhost/page.html?x=1", nil)
	key := Key(r)
	req, err := RequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page.html?x=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
}

func TestKeyIgnoresHost(t *testing.T) {
	a, _ := http.NewRequest("GET", "http://one.localhost/index.html", nil)
	b, _ := http.NewRequest("GET", "https://two.localhost/index.html", nil)
	if Key(a) != Key(b) {
		t.Fatalf("Keys differ: %s != %s", Key(a), Key(b))
	}
}

func TestRequestFromKeyRejectsUnsafeMethods(t *testing.T) {
	if _, err := RequestFromKey(KeyFor("POST", "/form")); err != ErrMethodNotSupported {
		t.Fatalf("Error is %v", err)
	}
	if _, err := RequestFromKey("garbage"); err == nil {
		t.Fatal("Malformed key accepted")
	}
}
