// Package timesheet reads attendance signals from the HR timesheet
// service: who is registered work-from-home for which day-part, who is off
// work entirely, and whether a date is a company holiday.
package timesheet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

type Config struct {
	BaseURL     string
	APIKey      string
	EmailDomain string
	Timeout     time.Duration
}

// WFHEntry is one work-from-home registration for the queried date.
type WFHEntry struct {
	Email   string `json:"emailAddress"`
	DayPart string `json:"dateTypeName"` // Morning | Afternoon | Fullday
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}
}

// ListWorkFromHome returns every WFH registration for the date.
func (c *Client) ListWorkFromHome(ctx context.Context, date time.Time) ([]WFHEntry, error) {
	var out struct {
		Result []WFHEntry `json:"result"`
	}
	if err := c.get(ctx, "/api/services/app/Timesheet/GetAllUserWFH", date, &out); err != nil {
		return nil, fmt.Errorf("timesheet wfh: %w", err)
	}
	return out.Result, nil
}

// ListOffWork returns the usernames excluded from any automated send on
// the date (leave, business trips, ...).
func (c *Client) ListOffWork(ctx context.Context, date time.Time) ([]string, error) {
	var out struct {
		NotSendUser []string `json:"notSendUser"`
	}
	if err := c.get(ctx, "/api/services/app/Timesheet/GetUserOffWork", date, &out); err != nil {
		return nil, fmt.Errorf("timesheet off-work: %w", err)
	}
	return out.NotSendUser, nil
}

// IsHoliday reports whether the date is a company holiday.
func (c *Client) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	var out struct {
		Result bool `json:"result"`
	}
	if err := c.get(ctx, "/api/services/app/Public/IsHoliday", date, &out); err != nil {
		return false, fmt.Errorf("timesheet holiday: %w", err)
	}
	return out.Result, nil
}

// UsernameByEmail strips the configured email domain. Emails outside the
// domain map to "" and are ignored by callers.
func (c *Client) UsernameByEmail(email string) string {
	domain := "@" + strings.TrimPrefix(c.cfg.EmailDomain, "@")
	if !strings.HasSuffix(email, domain) {
		return ""
	}
	return strings.TrimSuffix(email, domain)
}

func (c *Client) get(ctx context.Context, path string, date time.Time, out any) error {
	endpoint := c.cfg.BaseURL + path + "?date=" + url.QueryEscape(date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Secret-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
