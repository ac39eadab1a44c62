// Package sheets writes exported ledgers to a Google Sheets spreadsheet, one
// tab per ledger.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budgeteer/internal/export"
	"budgeteer/internal/log"
)

var _ export.Writer = (*Client)(nil)

type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger
}

// New authenticates with service account credentials, inline JSON taking
// precedence over the file.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	var creds []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		creds = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	return NewWithOptions(ctx, cfg.SpreadsheetID, logger,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewWithOptions builds a client from raw API options.
func NewWithOptions(ctx context.Context, spreadsheetID string, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, logger: logger.WithComponent(log.ComponentExport)}, nil
}

// WriteLedger replaces the content of the ledger's tab, creating the tab on
// first export.
func (c *Client) WriteLedger(ctx context.Context, l export.Ledger) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	tab := TabName(l)

	if err := c.ensureTab(ctx, tab); err != nil {
		return "", err
	}

	all := fmt.Sprintf("'%s'!A:F", tab)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, all, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", all, err)
	}

	values := export.Values(l)
	rng := fmt.Sprintf("'%s'!A1:F%d", tab, len(values))
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}

	c.logger.InfoContext(ctx, "Ledger exported",
		log.NewFields().WithRecord("ledger", l.ID, "").WithOperation(log.OpExport).ToSlice()...)
	return rng, nil
}

func (c *Client) ensureTab(ctx context.Context, tab string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", tab, err)
	}
	return nil
}

// TabName derives a stable tab title from the ledger. The id suffix keeps
// ledgers with equal names apart.
func TabName(l export.Ledger) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '\'', '!', '[', ']', '*', '?', '/', '\\', ':':
			return -1
		}
		return r
	}, strings.TrimSpace(l.Name))
	if len([]rune(name)) > 80 {
		name = string([]rune(name)[:80])
	}
	suffix := l.ID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if name == "" {
		return suffix
	}
	return name + " " + suffix
}
