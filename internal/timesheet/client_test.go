package timesheet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "k", EmailDomain: "ncc.asia"}, logx.Nop())
}

func TestListWorkFromHome(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/services/app/Timesheet/GetAllUserWFH" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Secret-Key") != "k" {
			t.Error("missing secret key header")
		}
		if r.URL.Query().Get("date") == "" {
			t.Error("missing date param")
		}
		w.Write([]byte(`{"result":[{"emailAddress":"alice@ncc.asia","dateTypeName":"Morning"}]}`))
	})

	entries, err := c.ListWorkFromHome(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ListWorkFromHome: %v", err)
	}
	if len(entries) != 1 || entries[0].Email != "alice@ncc.asia" || entries[0].DayPart != "Morning" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestListOffWork(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"notSendUser":["bob","carol"]}`))
	})

	users, err := c.ListOffWork(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ListOffWork: %v", err)
	}
	if len(users) != 2 || users[0] != "bob" {
		t.Fatalf("unexpected users: %v", users)
	}
}

func TestIsHolidayErrorPropagates(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := c.IsHoliday(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error on 5xx")
	}
}

func TestUsernameByEmail(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{EmailDomain: "ncc.asia"}, logx.Nop())

	if got := c.UsernameByEmail("alice@ncc.asia"); got != "alice" {
		t.Fatalf("got %q, want alice", got)
	}
	if got := c.UsernameByEmail("mallory@gmail.com"); got != "" {
		t.Fatalf("foreign domain should map to empty, got %q", got)
	}
}
