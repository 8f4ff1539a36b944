package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/presentation"
)

// Script is a scripted marketplace session.
//
//	start: 2025-06-01T09:00:00Z
//	deposits:
//	  bob: "5"
//	steps:
//	  - {op: mint, as: alice, event: Cup Final, venue: Arena, seat: C3, save: final}
//	  - {op: verify, as: carol, asset: $final}
//	  - {op: list, as: alice, asset: $final, price: "0.1"}
//	  - {op: purchase, as: bob, asset: $final}
//	  - {op: advance, duration: 168h}
//	  - {op: auto_release, as: mallory, asset: $final}
type Script struct {
	// Start is the simulated clock's initial reading. Zero means now.
	Start time.Time `yaml:"start"`
	// Deposits seeds ledger balances before the first step.
	Deposits map[string]string `yaml:"deposits"`
	Steps    []Step            `yaml:"steps"`
}

// Step is one operation. Fields that an op does not use are ignored.
type Step struct {
	Op string `yaml:"op"`
	// As is the caller identity.
	As string `yaml:"as"`
	// Asset is a numeric id or $name of an asset saved by an earlier mint.
	Asset string `yaml:"asset"`

	Owner       string `yaml:"owner"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Operator    string `yaml:"operator"`
	Admin       string `yaml:"admin"`
	Marketplace string `yaml:"marketplace"`
	Who         string `yaml:"who"`

	Price   string `yaml:"price"`
	Payment string `yaml:"payment"`
	Amount  string `yaml:"amount"`
	FeeBps  int    `yaml:"fee_bps"`

	Reason     string `yaml:"reason"`
	SellerWins bool   `yaml:"seller_wins"`
	Duration   string `yaml:"duration"`

	Event         string    `yaml:"event"`
	Date          time.Time `yaml:"date"`
	Venue         string    `yaml:"venue"`
	Seat          string    `yaml:"seat"`
	OriginalPrice string    `yaml:"original_price"`
	Proof         string    `yaml:"proof"`

	// Save names the minted asset for later $name references.
	Save string `yaml:"save"`
	// Expect makes the step pass only if it fails with this error kind.
	Expect string `yaml:"expect"`
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	for i, st := range s.Steps {
		if st.Op == "" {
			return nil, fmt.Errorf("step %d: op is required", i+1)
		}
		if _, ok := stepOps[st.Op]; !ok {
			return nil, fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
		if st.Expect != "" {
			if _, ok := expectKinds[st.Expect]; !ok {
				return nil, fmt.Errorf("step %d: unknown expect %q", i+1, st.Expect)
			}
		}
	}
	return &s, nil
}

// expectKinds maps expect values to the error each must match. "any" matches every error.
var expectKinds = map[string]error{
	"any":                nil,
	"unauthorized":       types.ErrUnauthorized,
	"invalid_state":      types.ErrInvalidState,
	"invalid_value":      types.ErrInvalidValue,
	"not_found":          types.ErrNotFound,
	"reentrant":          types.ErrReentrant,
	"transfer_failed":    ledger.ErrTransferFailed,
	"insufficient_funds": ledger.ErrInsufficientFunds,
}

// simClock is the marketplace clock during a script; only advance moves it.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runner executes a Script against a running marketplace.
type runner struct {
	m      *marketplace
	clock  *simClock
	names  map[string]types.AssetID
	out    io.Writer
	format *presentation.Formatter

	done     int
	expected int
}

type stepFunc func(r *runner, ctx context.Context, st Step) (string, error)

var stepOps map[string]stepFunc

func init() {
	stepOps = map[string]stepFunc{
		"add_admin":             (*runner).addAdmin,
		"remove_admin":          (*runner).removeAdmin,
		"authorize_marketplace": (*runner).authorizeMarketplace,
		"mint":                  (*runner).mint,
		"verify":                (*runner).verify,
		"lock":                  (*runner).lock,
		"unlock":                (*runner).unlock,
		"mark_disputed":         (*runner).markDisputed,
		"approve":               (*runner).approve,
		"transfer":              (*runner).transfer,
		"privileged_transfer":   (*runner).privilegedTransfer,
		"list":                  (*runner).list,
		"unlist":                (*runner).unlist,
		"purchase":              (*runner).purchase,
		"confirm":               (*runner).confirm,
		"auto_release":          (*runner).autoRelease,
		"raise_dispute":         (*runner).raiseDispute,
		"resolve_dispute":       (*runner).resolveDispute,
		"withdraw_fees":         (*runner).withdrawFees,
		"update_fee":            (*runner).updateFee,
		"advance":               (*runner).advance,
		"deposit":               (*runner).deposit,
		"show":                  (*runner).show,
		"balances":              (*runner).balances,
	}
}

// seed applies the script's deposits in identity order.
func (r *runner) seed(ctx context.Context, deposits map[string]string) error {
	who := make([]string, 0, len(deposits))
	for k := range deposits {
		who = append(who, k)
	}
	sort.Strings(who)
	for _, k := range who {
		amount, err := ledger.ParseAmount(deposits[k])
		if err != nil {
			return fmt.Errorf("deposit for %s: %w", k, err)
		}
		if err := r.m.backend.funds.Deposit(ctx, types.Identity(k), amount); err != nil {
			return fmt.Errorf("deposit for %s: %w", k, err)
		}
	}
	return nil
}

// run executes every step, stopping at the first unexpected outcome.
func (r *runner) run(ctx context.Context, s *Script) error {
	if err := r.seed(ctx, s.Deposits); err != nil {
		return err
	}
	for i, st := range s.Steps {
		n := i + 1
		desc, err := stepOps[st.Op](r, ctx, st)
		if desc == "" {
			desc = st.Op
		}

		if st.Expect == "" {
			if err != nil {
				fmt.Fprintln(r.out, presentation.StepFailed(n, desc, err))
				return fmt.Errorf("step %d (%s): %w", n, st.Op, err)
			}
			fmt.Fprintln(r.out, presentation.StepOK(n, desc))
			r.done++
			continue
		}

		if err == nil {
			err = fmt.Errorf("expected %s error, step succeeded", st.Expect)
			fmt.Fprintln(r.out, presentation.StepFailed(n, desc, err))
			return fmt.Errorf("step %d (%s): %w", n, st.Op, err)
		}
		if want := expectKinds[st.Expect]; want != nil && !errors.Is(err, want) {
			fmt.Fprintln(r.out, presentation.StepFailed(n, desc, err))
			return fmt.Errorf("step %d (%s): expected %s error: %w", n, st.Op, st.Expect, err)
		}
		r.done++
		r.expected++
		fmt.Fprintln(r.out, presentation.StepExpected(n, desc, err))
	}
	return nil
}

func (r *runner) assetRef(ref string) (types.AssetID, error) {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, "$"); ok {
		id, found := r.names[name]
		if !found {
			return 0, fmt.Errorf("no asset saved as %q: %w", name, types.ErrInvalidValue)
		}
		return id, nil
	}
	n, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("asset %q: %w", ref, types.ErrInvalidValue)
	}
	return types.AssetID(n), nil
}

func amountOf(field, s string) (*uint256.Int, error) {
	v, err := ledger.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// assetStep runs one of the single-asset operations.
func (r *runner) assetStep(ctx context.Context, st Step, op func(context.Context, types.Identity, types.AssetID) error) (string, error) {
	id, err := r.assetRef(st.Asset)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s asset=%d as=%s", st.Op, id, st.As), op(ctx, types.Identity(st.As), id)
}

// ===========================================================================
// Directory
// ===========================================================================

func (r *runner) addAdmin(ctx context.Context, st Step) (string, error) {
	return fmt.Sprintf("add_admin %s as=%s", st.Admin, st.As), r.m.svc.AddAdmin(ctx, types.Identity(st.As), types.Identity(st.Admin))
}

func (r *runner) removeAdmin(ctx context.Context, st Step) (string, error) {
	return fmt.Sprintf("remove_admin %s as=%s", st.Admin, st.As), r.m.svc.RemoveAdmin(ctx, types.Identity(st.As), types.Identity(st.Admin))
}

func (r *runner) authorizeMarketplace(ctx context.Context, st Step) (string, error) {
	return fmt.Sprintf("authorize_marketplace %s as=%s", st.Marketplace, st.As),
		r.m.svc.AuthorizeMarketplace(ctx, types.Identity(st.As), types.Identity(st.Marketplace))
}

// ===========================================================================
// Registry
// ===========================================================================

func (r *runner) mint(ctx context.Context, st Step) (string, error) {
	meta := repository.Metadata{
		EventName: st.Event,
		EventDate: st.Date,
		Venue:     st.Venue,
		Seat:      st.Seat,
		ProofRef:  st.Proof,
	}
	if st.OriginalPrice != "" {
		p, err := amountOf("original_price", st.OriginalPrice)
		if err != nil {
			return "", err
		}
		meta.OriginalPrice = p
	}
	owner := orDefault(st.Owner, st.As)

	asset, err := r.m.svc.Mint(ctx, types.Identity(st.As), types.Identity(owner), meta)
	if err != nil {
		return fmt.Sprintf("mint for %s", owner), err
	}
	if st.Save != "" {
		r.names[st.Save] = asset.ID
	}
	return fmt.Sprintf("mint asset=%d owner=%s %q", asset.ID, owner, st.Event), nil
}

func (r *runner) verify(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.Verify)
}

func (r *runner) lock(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.Lock)
}

func (r *runner) unlock(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.Unlock)
}

func (r *runner) markDisputed(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.MarkDisputed)
}

func (r *runner) approve(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, func(ctx context.Context, caller types.Identity, id types.AssetID) error {
		return r.m.svc.Approve(ctx, caller, id, types.Identity(st.Operator))
	})
}

func (r *runner) transfer(ctx context.Context, st Step) (string, error) {
	id, err := r.assetRef(st.Asset)
	if err != nil {
		return "", err
	}
	from := orDefault(st.From, st.As)
	return fmt.Sprintf("transfer asset=%d %s->%s as=%s", id, from, st.To, st.As),
		r.m.svc.Transfer(ctx, types.Identity(st.As), id, types.Identity(from), types.Identity(st.To))
}

func (r *runner) privilegedTransfer(ctx context.Context, st Step) (string, error) {
	id, err := r.assetRef(st.Asset)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("privileged_transfer asset=%d %s->%s as=%s", id, st.From, st.To, st.As),
		r.m.svc.PrivilegedTransfer(ctx, types.Identity(st.As), id, types.Identity(st.From), types.Identity(st.To))
}

// ===========================================================================
// Marketplace
// ===========================================================================

func (r *runner) list(ctx context.Context, st Step) (string, error) {
	id, err := r.assetRef(st.Asset)
	if err != nil {
		return "", err
	}
	price, err := amountOf("price", st.Price)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("list asset=%d price=%s as=%s", id, ledger.FormatAmount(price), st.As),
		r.m.svc.List(ctx, types.Identity(st.As), id, price)
}

func (r *runner) unlist(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.Unlist)
}

// purchase pays the listed price unless the step names a payment.
func (r *runner) purchase(ctx context.Context, st Step) (string, error) {
	id, err := r.assetRef(st.Asset)
	if err != nil {
		return "", err
	}
	var payment *uint256.Int
	if st.Payment != "" {
		if payment, err = amountOf("payment", st.Payment); err != nil {
			return "", err
		}
	} else {
		listing, err := r.m.svc.Listing(ctx, id)
		if err != nil {
			return "", err
		}
		payment = listing.Price
	}
	return fmt.Sprintf("purchase asset=%d payment=%s as=%s", id, ledger.FormatAmount(payment), st.As),
		r.m.svc.Purchase(ctx, types.Identity(st.As), id, payment)
}

func (r *runner) confirm(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.Confirm)
}

func (r *runner) autoRelease(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, r.m.svc.AutoRelease)
}

func (r *runner) raiseDispute(ctx context.Context, st Step) (string, error) {
	return r.assetStep(ctx, st, func(ctx context.Context, caller types.Identity, id types.AssetID) error {
		return r.m.svc.RaiseDispute(ctx, caller, id, st.Reason)
	})
}

func (r *runner) resolveDispute(ctx context.Context, st Step) (string, error) {
	desc, err := r.assetStep(ctx, st, func(ctx context.Context, caller types.Identity, id types.AssetID) error {
		return r.m.svc.ResolveDispute(ctx, caller, id, st.SellerWins)
	})
	return fmt.Sprintf("%s seller_wins=%t", desc, st.SellerWins), err
}

func (r *runner) withdrawFees(ctx context.Context, st Step) (string, error) {
	paid, err := r.m.svc.WithdrawFees(ctx, types.Identity(st.As))
	if err != nil {
		return "withdraw_fees as=" + st.As, err
	}
	return fmt.Sprintf("withdraw_fees as=%s paid=%s", st.As, ledger.FormatAmount(paid)), nil
}

func (r *runner) updateFee(ctx context.Context, st Step) (string, error) {
	desc := fmt.Sprintf("update_fee %d as=%s", st.FeeBps, st.As)
	if st.FeeBps < 0 || st.FeeBps > 0xFFFF {
		return desc, fmt.Errorf("fee_bps %d: %w", st.FeeBps, types.ErrInvalidValue)
	}
	return desc, r.m.svc.UpdateFee(ctx, types.Identity(st.As), types.BasisPoints(st.FeeBps))
}

// ===========================================================================
// Harness
// ===========================================================================

func (r *runner) advance(_ context.Context, st Step) (string, error) {
	d, err := time.ParseDuration(st.Duration)
	if err != nil {
		return "advance", fmt.Errorf("duration: %w", err)
	}
	if d < 0 {
		return "advance", fmt.Errorf("duration %s: clock cannot move backwards", d)
	}
	r.clock.Advance(d)
	return fmt.Sprintf("advance %s to %s", d, r.clock.Now().UTC().Format(time.RFC3339)), nil
}

func (r *runner) deposit(ctx context.Context, st Step) (string, error) {
	who := orDefault(st.Who, st.As)
	amount, err := amountOf("amount", st.Amount)
	if err != nil {
		return "deposit", err
	}
	return fmt.Sprintf("deposit %s to %s", ledger.FormatAmount(amount), who),
		r.m.backend.funds.Deposit(ctx, types.Identity(who), amount)
}

func (r *runner) show(ctx context.Context, st Step) (string, error) {
	id, err := r.assetRef(st.Asset)
	if err != nil {
		return "", err
	}
	view, err := r.m.svc.View(ctx, id)
	if err != nil {
		return fmt.Sprintf("show asset=%d", id), err
	}
	return fmt.Sprintf("show asset=%d", id), r.format.FormatView(presentation.FromView(view.Asset, view.Listing, view.Escrow, r.m.period))
}

func (r *runner) balances(ctx context.Context, _ Step) (string, error) {
	dtos, err := balanceDTOs(ctx, r.m.backend.funds)
	if err != nil {
		return "balances", err
	}
	return "balances", r.format.FormatBalances(dtos)
}

func balanceDTOs(ctx context.Context, f funds) ([]presentation.BalanceDTO, error) {
	accounts, err := f.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	balances := make(map[types.Identity]*uint256.Int, len(accounts))
	for _, id := range accounts {
		if balances[id], err = f.Balance(ctx, id); err != nil {
			return nil, err
		}
	}
	return presentation.FromBalances(accounts, balances), nil
}
