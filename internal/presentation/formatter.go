// Package presentation renders marketplace state for the command line, either as
// indented JSON for scripting or as styled text.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Formatter writes DTOs to a writer.
type Formatter struct {
	writer io.Writer
	json   bool
}

// NewFormatter creates a text formatter.
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{writer: writer}
}

// NewJSONFormatter creates a formatter that emits indented JSON.
func NewJSONFormatter(writer io.Writer) *Formatter {
	return &Formatter{writer: writer, json: true}
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatView writes one asset with its listing and escrow.
func (f *Formatter) FormatView(v AssetViewDTO) error {
	if f.json {
		return f.encode(v)
	}

	var b strings.Builder
	a := v.Asset
	b.WriteString(headingStyle.Render(fmt.Sprintf("Asset #%d", a.ID)) + "  " + statusStyle(a.Status).Render(a.Status) + "\n")
	row(&b, "event", a.EventName)
	row(&b, "event date", a.EventDate)
	row(&b, "venue", a.Venue)
	row(&b, "seat", a.Seat)
	row(&b, "original price", a.OriginalPrice)
	row(&b, "proof", a.ProofRef)
	row(&b, "owner", a.Owner)
	row(&b, "approved", a.Approved)
	row(&b, "locked", fmt.Sprint(a.Locked))
	row(&b, "minted", a.MintedAt)

	if l := v.Listing; l != nil {
		b.WriteString(headingStyle.Render("Listing") + "\n")
		row(&b, "seller", l.Seller)
		row(&b, "price", l.Price)
		row(&b, "active", fmt.Sprint(l.Active))
		row(&b, "created", l.CreatedAt)
	}
	if e := v.Escrow; e != nil {
		b.WriteString(headingStyle.Render("Escrow") + "\n")
		row(&b, "seller", e.Seller)
		row(&b, "buyer", e.Buyer)
		row(&b, "price", e.Price)
		row(&b, "started", e.StartTime)
		row(&b, "seller confirmed", fmt.Sprint(e.SellerConfirmed))
		row(&b, "buyer confirmed", fmt.Sprint(e.BuyerConfirmed))
		row(&b, "disputed", fmt.Sprint(e.Disputed))
		row(&b, "dispute reason", e.DisputeReason)
		row(&b, "completed", fmt.Sprint(e.Completed))
		row(&b, "completed at", e.CompletedAt)
		if !e.Completed {
			row(&b, "auto-release at", e.Deadline)
		}
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// row skips empty values.
func row(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString("  " + labelStyle.Render(label) + value + "\n")
}

// FormatEvents writes outbox entries, one per line in text mode.
func (f *Formatter) FormatEvents(evts []EventDTO) error {
	if f.json {
		return f.encode(evts)
	}
	if len(evts) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("no events"))
		return err
	}

	var b strings.Builder
	for _, e := range evts {
		b.WriteString(seqStyle.Render(fmt.Sprint(e.Seq)) + " " + typeStyle.Render(e.Type))
		b.WriteString(eventDetail(e))
		b.WriteString(" " + mutedStyle.Render(e.At) + "\n")
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

func eventDetail(e EventDTO) string {
	parts := make([]string, 0, 6)
	if e.AssetID != 0 {
		parts = append(parts, fmt.Sprintf("asset=%d", e.AssetID))
	}
	if e.Actor != "" {
		parts = append(parts, "actor="+e.Actor)
	}
	if e.Party != "" {
		parts = append(parts, "party="+e.Party)
	}
	if e.Status != "" {
		parts = append(parts, "status="+statusStyle(e.Status).Render(e.Status))
	}
	if e.Amount != "" {
		parts = append(parts, "amount="+e.Amount)
	}
	if e.FeeBps != 0 {
		parts = append(parts, fmt.Sprintf("fee_bps=%d", e.FeeBps))
	}
	if e.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason=%q", e.Reason))
	}
	if e.SellerWins != nil {
		parts = append(parts, fmt.Sprintf("seller_wins=%t", *e.SellerWins))
	}
	return strings.Join(parts, " ")
}

// FormatBalances writes ledger accounts.
func (f *Formatter) FormatBalances(balances []BalanceDTO) error {
	if f.json {
		return f.encode(balances)
	}
	var b strings.Builder
	for _, bal := range balances {
		b.WriteString("  " + labelStyle.Render(bal.Identity) + bal.Amount + "\n")
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// StepOK renders a successful script step.
func StepOK(n int, desc string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, okStyle.Render("ok  "), mutedStyle.Render(fmt.Sprintf("%3d ", n)), desc)
}

// StepExpected renders a step that failed the way the script said it would.
func StepExpected(n int, desc string, err error) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, expectStyle.Render("err "), mutedStyle.Render(fmt.Sprintf("%3d ", n)), desc+" "+mutedStyle.Render("("+err.Error()+")"))
}

// StepFailed renders a step that aborted the script.
func StepFailed(n int, desc string, err error) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, failStyle.Render("FAIL"), mutedStyle.Render(fmt.Sprintf("%3d ", n)), desc+": "+err.Error())
}
