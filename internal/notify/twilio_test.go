package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTwilioClientSendSMS(t *testing.T) {
	var gotPath, gotTo, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "secret" {
			t.Fatalf("basic auth = %q/%q", user, pass)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewTwilioClient(TwilioConfig{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+61255550123",
	})
	if err := c.SendSMS(context.Background(), "+61400000000", "your code is 482913"); err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotTo != "+61400000000" || gotFrom != "+61255550123" {
		t.Fatalf("to = %q, from = %q", gotTo, gotFrom)
	}
}

func TestTwilioClientRequiresCredentials(t *testing.T) {
	c := NewTwilioClient(TwilioConfig{})
	err := c.SendSMS(context.Background(), "+614", "hi")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}

func TestTwilioClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":21211}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewTwilioClient(TwilioConfig{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+612",
	})
	if err := c.SendSMS(context.Background(), "+614", "hi"); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}
