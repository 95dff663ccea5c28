package cli

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/AmmannChristian/go-apiclient/httpclient"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"
)

const maxCellWidth = 100

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// writeResponseHead renders the status line and the response headers as a table.
func writeResponseHead(w io.Writer, resp *httpclient.Response) error {
	t := newTable(w)
	t.SetTitle("%s %s", text.FgHiBlue.Sprint(resp.Status), resp.URI)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("HEADER"), text.FgHiCyan.Sprint("VALUE")})

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		t.AppendRow(table.Row{k, truncate(strings.Join(resp.Header[k], ", "))})
	}

	t.Render()
	return nil
}

// writeBody writes body and terminates it with a newline.
func writeBody(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if !bytes.HasSuffix(body, []byte("\n")) {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

// writeClaims decodes token as a JWT without verifying it and renders its claims.
func writeClaims(w io.Writer, token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("token is not a JWT: %w", err)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("CLAIM"), text.FgHiCyan.Sprint("VALUE")})

	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		t.AppendRow(table.Row{name, truncate(claimValue(name, claims[name]))})
	}

	t.Render()
	return nil
}

// claimValue renders the registered time claims as RFC 3339 timestamps.
func claimValue(name string, value any) string {
	switch name {
	case "exp", "iat", "nbf":
		if seconds, ok := value.(float64); ok {
			return time.Unix(int64(seconds), 0).UTC().Format(time.RFC3339)
		}
	}
	return fmt.Sprintf("%v", value)
}

// writeStats renders the apiclient counters gathered from g.
func writeStats(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("METRIC"),
		text.FgHiCyan.Sprint("LABELS"),
		text.FgHiCyan.Sprint("VALUE"),
	})

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			t.AppendRow(table.Row{mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()})
		}
	}

	t.Render()
	return nil
}

func truncate(s string) string {
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}
