// directory.go implements the protocol directory on the state store. One
// JSON record per protocol, per (protocol, agent) approval, and per agent
// passport; records are persistent (no TTL) and case-insensitive on
// addresses.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/store"
)

const (
	protocolKeyPrefix = "aegis:directory:protocol:"
	approvalKeyPrefix = "aegis:directory:approval:"
	passportKeyPrefix = "aegis:directory:passport:"
)

// Protocol is one registered protocol record.
type Protocol struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	BudgetUSD float64  `json:"budgetUsd"`
	Whitelist []string `json:"whitelist,omitempty"`
}

// approvalRecord is the stored approval plus its daily-spend window.
type approvalRecord struct {
	Revoked        bool    `json:"revoked"`
	DailyBudgetUSD float64 `json:"dailyBudgetUsd"`
	SpentTodayUSD  float64 `json:"spentTodayUsd"`
	Day            string  `json:"day"` // YYYY-MM-DD, UTC
}

// passportRecord is the stored reputation counter pair.
type passportRecord struct {
	SponsorCount int `json:"sponsorCount"`
	SuccessCount int `json:"successCount"`
}

// StoreDirectory is the production Directory backed by the state store.
type StoreDirectory struct {
	store store.Store
	now   func() time.Time
}

// NewStoreDirectory creates a store-backed directory.
func NewStoreDirectory(s store.Store) *StoreDirectory {
	return &StoreDirectory{store: s, now: time.Now}
}

// SetClock overrides the clock. Tests only.
func (d *StoreDirectory) SetClock(now func() time.Time) { d.now = now }

func protocolKey(id string) string { return protocolKeyPrefix + id }

func approvalKey(protocolID string, agent common.Address) string {
	return approvalKeyPrefix + protocolID + ":" + strings.ToLower(agent.Hex())
}

func passportKey(agent common.Address) string {
	return passportKeyPrefix + strings.ToLower(agent.Hex())
}

func (d *StoreDirectory) day() string {
	return d.now().UTC().Format("2006-01-02")
}

// getJSON loads and decodes one record. ok=false means absent.
func (d *StoreDirectory) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("directory: load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("directory: decode %s: %w", key, err)
	}
	return true, nil
}

func (d *StoreDirectory) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("directory: encode %s: %w", key, err)
	}
	if err := d.store.Set(ctx, key, raw, 0); err != nil {
		return fmt.Errorf("directory: store %s: %w", key, err)
	}
	return nil
}

// UpsertProtocol registers or replaces a protocol record.
func (d *StoreDirectory) UpsertProtocol(ctx context.Context, p Protocol) error {
	if p.ID == "" {
		return fmt.Errorf("directory: protocol id required")
	}
	return d.setJSON(ctx, protocolKey(p.ID), p)
}

// SetApproval writes the (protocol, agent) approval. The daily spend window
// starts fresh.
func (d *StoreDirectory) SetApproval(ctx context.Context, protocolID string, agent common.Address, dailyBudgetUSD float64, revoked bool) error {
	rec := approvalRecord{
		Revoked:        revoked,
		DailyBudgetUSD: dailyBudgetUSD,
		Day:            d.day(),
	}
	return d.setJSON(ctx, approvalKey(protocolID, agent), rec)
}

// Approval returns the approval for (protocolID, agent), or nil when none
// exists. A spend window from a previous UTC day reads as zero spent.
func (d *StoreDirectory) Approval(ctx context.Context, protocolID string, agent common.Address) (*Approval, error) {
	var rec approvalRecord
	ok, err := d.getJSON(ctx, approvalKey(protocolID, agent), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	spent := rec.SpentTodayUSD
	if rec.Day != d.day() {
		spent = 0
	}
	return &Approval{
		Revoked:        rec.Revoked,
		DailyBudgetUSD: rec.DailyBudgetUSD,
		SpentTodayUSD:  spent,
	}, nil
}

// RecordSpend charges a completed sponsorship against the agent's daily
// approval window and the protocol's prepaid budget.
func (d *StoreDirectory) RecordSpend(ctx context.Context, protocolID string, agent common.Address, costUSD float64) error {
	var rec approvalRecord
	ok, err := d.getJSON(ctx, approvalKey(protocolID, agent), &rec)
	if err != nil {
		return err
	}
	if ok {
		if rec.Day != d.day() {
			rec.Day = d.day()
			rec.SpentTodayUSD = 0
		}
		rec.SpentTodayUSD += costUSD
		if err := d.setJSON(ctx, approvalKey(protocolID, agent), rec); err != nil {
			return err
		}
	}

	var proto Protocol
	ok, err = d.getJSON(ctx, protocolKey(protocolID), &proto)
	if err != nil || !ok {
		return err
	}
	proto.BudgetUSD -= costUSD
	if proto.BudgetUSD < 0 {
		proto.BudgetUSD = 0
	}
	return d.setJSON(ctx, protocolKey(protocolID), proto)
}

// ProtocolBudgetUSD returns the protocol's remaining prepaid budget.
func (d *StoreDirectory) ProtocolBudgetUSD(ctx context.Context, protocolID string) (float64, bool, error) {
	var proto Protocol
	ok, err := d.getJSON(ctx, protocolKey(protocolID), &proto)
	if err != nil || !ok {
		return 0, false, err
	}
	return proto.BudgetUSD, true, nil
}

// Whitelist returns the protocol's allowed recipient contracts. An unknown
// protocol has no restriction.
func (d *StoreDirectory) Whitelist(ctx context.Context, protocolID string) ([]string, error) {
	var proto Protocol
	ok, err := d.getJSON(ctx, protocolKey(protocolID), &proto)
	if err != nil || !ok {
		return nil, err
	}
	return proto.Whitelist, nil
}

// Passport returns the agent's gas passport, or nil when the agent has no
// sponsorship history.
func (d *StoreDirectory) Passport(ctx context.Context, agent common.Address) (*Passport, error) {
	var rec passportRecord
	ok, err := d.getJSON(ctx, passportKey(agent), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	p := &Passport{SponsorCount: rec.SponsorCount}
	if rec.SponsorCount > 0 {
		p.SuccessRateBps = rec.SuccessCount * 10000 / rec.SponsorCount
	}
	return p, nil
}

// RecordOutcome appends one sponsorship outcome to the agent's passport.
func (d *StoreDirectory) RecordOutcome(ctx context.Context, agent common.Address, success bool) error {
	var rec passportRecord
	if _, err := d.getJSON(ctx, passportKey(agent), &rec); err != nil {
		return err
	}
	rec.SponsorCount++
	if success {
		rec.SuccessCount++
	}
	return d.setJSON(ctx, passportKey(agent), rec)
}

var (
	_ Directory          = (*StoreDirectory)(nil)
	_ SettlementRecorder = (*StoreDirectory)(nil)
)
