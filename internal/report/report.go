// Package report holds the damage cost estimate produced by a successful analysis.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
)

// Part is one damaged part identified by the analysis service.
type Part struct {
	Name       string  `json:"name"`
	RepairType string  `json:"repairType"`
	Cost       float64 `json:"cost"`
	Damage     string  `json:"damage,omitempty"`
}

// Result is an immutable cost estimate. Build it with New; accessors return copies.
type Result struct {
	parts      []Part
	laborCost  float64
	totalCost  float64
	currency   string
	confidence float64
}

// New copies parts so later changes to the caller's slice are not observed.
func New(parts []Part, laborCost, totalCost float64, currency string, confidence float64) *Result {
	return &Result{
		parts:      append([]Part(nil), parts...),
		laborCost:  laborCost,
		totalCost:  totalCost,
		currency:   currency,
		confidence: confidence,
	}
}

// Parts returns the detected parts in server order.
func (r *Result) Parts() []Part {
	return append([]Part(nil), r.parts...)
}

func (r *Result) LaborCost() float64  { return r.laborCost }
func (r *Result) TotalCost() float64  { return r.totalCost }
func (r *Result) Currency() string    { return r.currency }
func (r *Result) Confidence() float64 { return r.confidence }

// PartsTotal is the parts subtotal as rendered to users: total minus labor.
func (r *Result) PartsTotal() float64 {
	v, _ := decimal.NewFromFloat(r.totalCost).Sub(decimal.NewFromFloat(r.laborCost)).Float64()
	return v
}

// Discrepancy returns totalCost - (sum of part costs + laborCost).
func (r *Result) Discrepancy() decimal.Decimal {
	sum := decimal.NewFromFloat(r.laborCost)
	for _, p := range r.parts {
		sum = sum.Add(decimal.NewFromFloat(p.Cost))
	}
	return decimal.NewFromFloat(r.totalCost).Sub(sum)
}

// Consistent reports whether the totals add up. The service guarantees this; the
// client only checks it for diagnostics.
func (r *Result) Consistent() bool {
	return r.Discrepancy().IsZero() && r.totalCost >= r.laborCost
}

type resultJSON struct {
	DetectedParts []Part  `json:"detectedParts"`
	LaborCost     float64 `json:"laborCost"`
	TotalCost     float64 `json:"totalCost"`
	Currency      string  `json:"currency"`
	Confidence    float64 `json:"confidence"`
}

// MarshalJSON renders the result in the same shape the analysis service uses.
func (r *Result) MarshalJSON() ([]byte, error) {
	parts := r.parts
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(resultJSON{
		DetectedParts: parts,
		LaborCost:     r.laborCost,
		TotalCost:     r.totalCost,
		Currency:      r.currency,
		Confidence:    r.confidence,
	})
}

// Format writes a plain text report.
func (r *Result) Format(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("Tespit Edilen Hasarlar\n")
	for _, p := range r.parts {
		ew.printf("  %-24s %-20s %s\n", p.Name, p.RepairType, money(p.Cost, r.currency))
	}
	ew.printf("\nMaliyet Özeti\n")
	ew.printf("  %-24s %s\n", "Parça Toplamı", money(r.PartsTotal(), r.currency))
	ew.printf("  %-24s %s\n", "İşçilik", money(r.laborCost, r.currency))
	ew.printf("  %-24s %s\n", "Toplam Tahmini Tutar", money(r.totalCost, r.currency))
	ew.printf("\nGüven: %%%s\n", decimal.NewFromFloat(r.confidence).Mul(decimal.NewFromInt(100)).Round(0).String())
	return ew.err
}

func money(v float64, currency string) string {
	return fmt.Sprintf("%s %s", decimal.NewFromFloat(v).StringFixed(2), currency)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
