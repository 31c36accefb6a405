// Package sheets reads and appends rows of a Google spreadsheet opened by
// title with a service-account credential.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

var scopes = []string{
	drive.DriveScope,
	gsheets.SpreadsheetsScope,
}

const spreadsheetMime = "application/vnd.google-apps.spreadsheet"

type Client struct {
	drive  *drive.Service
	sheets *gsheets.Service
}

// New authenticates with the service-account JSON.
func New(ctx context.Context, credentialsJSON []byte) (*Client, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("service account credentials: %w", err)
	}
	return NewWithOptions(ctx, option.WithCredentials(creds))
}

// NewWithOptions builds a client from explicit API options (endpoints, HTTP
// client).
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	d, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	s, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{drive: d, sheets: s}, nil
}

// Worksheet is the first sheet of a spreadsheet.
type Worksheet struct {
	sheets        *gsheets.Service
	SpreadsheetID string
	Title         string
}

// Open resolves a spreadsheet by its title and selects its first sheet.
// When several files share the title, the first one Drive returns is used.
func (c *Client) Open(ctx context.Context, title string) (*Worksheet, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(title), spreadsheetMime)
	list, err := c.drive.Files.List().
		Q(q).
		Fields("files(id,name)").
		PageSize(10).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("find spreadsheet %q: %w", title, err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("spreadsheet %q not found", title)
	}
	id := list.Files[0].Id

	ss, err := c.sheets.Spreadsheets.Get(id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %q: %w", title, err)
	}
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return nil, fmt.Errorf("spreadsheet %q has no sheets", title)
	}
	return &Worksheet{
		sheets:        c.sheets,
		SpreadsheetID: id,
		Title:         ss.Sheets[0].Properties.Title,
	}, nil
}

func (w *Worksheet) a1() string {
	return "'" + strings.ReplaceAll(w.Title, "'", "''") + "'"
}

// AppendRow adds one row after the last non-empty row of the sheet.
func (w *Worksheet) AppendRow(ctx context.Context, row []interface{}) error {
	_, err := w.sheets.Spreadsheets.Values.
		Append(w.SpreadsheetID, w.a1(), &gsheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// AllValues returns every non-empty row as formatted strings.
func (w *Worksheet) AllValues(ctx context.Context) ([][]string, error) {
	resp, err := w.sheets.Spreadsheets.Values.Get(w.SpreadsheetID, w.a1()).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, r := range resp.Values {
		row := make([]string, len(r))
		for i, cell := range r {
			if cell != nil {
				row[i] = fmt.Sprint(cell)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
