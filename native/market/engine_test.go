package market

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"moovemarket/core/events"
	"moovemarket/core/types"
)

type mockState struct {
	nextID   uint64
	items    map[uint64]*Item
	order    []uint64
	listings map[uint64]*Listing
	auctions map[uint64]*Auction
	escrow   map[[20]byte]*big.Int
	totals   *Totals
}

func newMockState() *mockState {
	return &mockState{
		items:    make(map[uint64]*Item),
		listings: make(map[uint64]*Listing),
		auctions: make(map[uint64]*Auction),
		escrow:   make(map[[20]byte]*big.Int),
		totals:   (&Totals{}).Clone(),
	}
}

func (m *mockState) MarketNextItemID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockState) MarketItemGet(id uint64) (*Item, bool, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	return item.Clone(), true, nil
}

func (m *mockState) MarketItemPut(item *Item) error {
	sanitized, err := SanitizeItem(item)
	if err != nil {
		return err
	}
	if _, ok := m.items[sanitized.ID]; !ok {
		m.order = append(m.order, sanitized.ID)
	}
	m.items[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) MarketItemIDs() ([]uint64, error) {
	return append([]uint64(nil), m.order...), nil
}

func (m *mockState) MarketListingGet(id uint64) (*Listing, bool, error) {
	listing, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return listing.Clone(), true, nil
}

func (m *mockState) MarketListingPut(listing *Listing) error {
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return err
	}
	m.listings[sanitized.ItemID] = sanitized.Clone()
	return nil
}

func (m *mockState) MarketAuctionGet(id uint64) (*Auction, bool, error) {
	auction, ok := m.auctions[id]
	if !ok {
		return nil, false, nil
	}
	return auction.Clone(), true, nil
}

func (m *mockState) MarketAuctionExists(id uint64) (bool, error) {
	_, ok := m.auctions[id]
	return ok, nil
}

func (m *mockState) MarketAuctionPut(auction *Auction) error {
	sanitized, err := SanitizeAuction(auction)
	if err != nil {
		return err
	}
	m.auctions[sanitized.ItemID] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowBalanceGet(addr [20]byte) (*big.Int, error) {
	balance, ok := m.escrow[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockState) EscrowBalancePut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("negative escrow balance")
	}
	m.escrow[addr] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) MarketTotalsGet() (*Totals, error) { return m.totals.Clone(), nil }

func (m *mockState) MarketTotalsPut(totals *Totals) error {
	m.totals = totals.Clone()
	return nil
}

// escrowSum is the total of all withdrawable balances in the fake state.
func (m *mockState) escrowSum() *big.Int {
	sum := big.NewInt(0)
	for _, balance := range m.escrow {
		sum.Add(sum, balance)
	}
	return sum
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	type payload interface {
		Event() *types.Event
	}
	if carrier, ok := evt.(payload); ok {
		c.events = append(c.events, carrier.Event())
	}
}

func (c *capturingEmitter) lastType() string {
	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1].Type
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *capturingEmitter) {
	t.Helper()
	state := newMockState()
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine, state, emitter
}

// checkConservation asserts the fund accounting identity: everything ever
// accepted is either held against an open bid, escrowed, or withdrawn.
func checkConservation(t *testing.T, state *mockState) {
	t.Helper()
	totals := state.totals
	sum := new(big.Int).Add(totals.Held, totals.Withdrawn)
	sum.Add(sum, state.escrowSum())
	if sum.Cmp(totals.Accepted) != 0 {
		t.Fatalf("fund conservation violated: held+withdrawn+escrow = %s, accepted = %s", sum, totals.Accepted)
	}
}

func TestMintAssignsMonotonicIDs(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	owner := newTestAddress(0x01)

	first, err := engine.Mint("ipfs://cid-1", owner)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	second, err := engine.Mint("ipfs://cid-2", owner)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", first.ID, second.ID)
	}
	if got, err := engine.OwnerOf(first.ID); err != nil || got != owner {
		t.Fatalf("ownerOf = %x (%v), want %x", got, err, owner)
	}
	if emitter.lastType() != EventTypeMinted {
		t.Fatalf("expected %s event, got %s", EventTypeMinted, emitter.lastType())
	}
}

func TestMintRejectsEmptyContentRef(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Mint("  ", newTestAddress(0x01)); err == nil {
		t.Fatal("expected error for blank content ref")
	}
}

func TestOwnerOfUnknownItem(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.OwnerOf(42); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestTransferRequiresCurrentOwner(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner := newTestAddress(0x01)
	other := newTestAddress(0x02)
	item, err := engine.Mint("ipfs://cid", owner)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Transfer(item.ID, other, other); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.Transfer(item.ID, owner, other); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got, _ := engine.OwnerOf(item.ID); got != other {
		t.Fatalf("ownership not transferred: %x", got)
	}
}

// Scenario: mint at price 100, first buyer at exact payment wins, the second
// observes the cleared listing and fails cleanly.
func TestBuyExactPriceThenNotForSale(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	rival := newTestAddress(0x03)
	price := big.NewInt(100)

	item, err := engine.MintListed("ipfs://cid", seller, price)
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if ok, _ := engine.IsAvailable(item.ID); !ok {
		t.Fatal("expected item to be available after mint+list")
	}

	bought, err := engine.Buy(item.ID, buyer, big.NewInt(100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if bought.Owner != buyer {
		t.Fatalf("owner after buy = %x, want %x", bought.Owner, buyer)
	}
	if ok, _ := engine.IsAvailable(item.ID); ok {
		t.Fatal("item still available after sale")
	}
	if emitter.lastType() != EventTypeBought {
		t.Fatalf("expected %s event, got %s", EventTypeBought, emitter.lastType())
	}
	if balance, _ := engine.EscrowBalance(seller); balance.Cmp(price) != 0 {
		t.Fatalf("seller escrow = %s, want %s", balance, price)
	}

	if _, err := engine.Buy(item.ID, rival, big.NewInt(100)); !errors.Is(err, ErrNotForSale) {
		t.Fatalf("expected ErrNotForSale, got %v", err)
	}
	checkConservation(t, state)
}

func TestBuyRejectsWrongPayment(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	for _, payment := range []*big.Int{big.NewInt(99), big.NewInt(101), big.NewInt(0)} {
		if _, err := engine.Buy(item.ID, buyer, payment); !errors.Is(err, ErrInsufficientPayment) {
			t.Fatalf("payment %s: expected ErrInsufficientPayment, got %v", payment, err)
		}
	}
	if got, _ := engine.OwnerOf(item.ID); got != seller {
		t.Fatal("ownership changed by rejected purchase")
	}
	checkConservation(t, state)
}

func TestBuyUnknownItem(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Buy(7, newTestAddress(0x02), big.NewInt(1)); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestCreateAuctionClearsListing(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	seller := newTestAddress(0x01)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}

	auction, err := engine.CreateAuction(item.ID, seller, 86_400, big.NewInt(10))
	if err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	if auction.EndTime != 1_000+86_400 {
		t.Fatalf("endTime = %d, want %d", auction.EndTime, 1_000+86_400)
	}
	if auction.HighestBid.Cmp(big.NewInt(10)) != 0 || auction.HasBid() {
		t.Fatalf("fresh auction should start at the start bid with no bidder")
	}
	if emitter.lastType() != EventTypeAuctionCreated {
		t.Fatalf("expected %s event, got %s", EventTypeAuctionCreated, emitter.lastType())
	}

	// Mutual exclusion: the fixed-price listing must be gone.
	if ok, _ := engine.IsAvailable(item.ID); ok {
		t.Fatal("item still listed while auction active")
	}
	listing, err := engine.GetListing(item.ID)
	if err != nil {
		t.Fatalf("getListing: %v", err)
	}
	if listing.ForSale {
		t.Fatal("listing still marked for sale")
	}
	if _, err := engine.Buy(item.ID, newTestAddress(0x02), big.NewInt(100)); !errors.Is(err, ErrNotForSale) {
		t.Fatalf("expected ErrNotForSale during auction, got %v", err)
	}
}

func TestCreateAuctionValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	stranger := newTestAddress(0x09)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}

	if _, err := engine.CreateAuction(99, seller, 60, nil); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, stranger, 60, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 0, nil); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 60, nil); err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 60, nil); !errors.Is(err, ErrAuctionAlreadyActive) {
		t.Fatalf("expected ErrAuctionAlreadyActive, got %v", err)
	}
}

// Scenario: start bid 10, bid 20 accepted, 15 rejected, 30 accepted and the
// displaced bidder's 20 becomes withdrawable.
func TestPlaceBidProgression(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	alice := newTestAddress(0x02)
	bob := newTestAddress(0x03)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 86_400, big.NewInt(10)); err != nil {
		t.Fatalf("createAuction: %v", err)
	}

	if _, err := engine.PlaceBid(item.ID, alice, big.NewInt(10)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("bid equal to start bid must fail, got %v", err)
	}
	if _, err := engine.PlaceBid(item.ID, alice, big.NewInt(20)); err != nil {
		t.Fatalf("placeBid 20: %v", err)
	}
	if _, err := engine.PlaceBid(item.ID, bob, big.NewInt(15)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow for 15, got %v", err)
	}
	auction, err := engine.PlaceBid(item.ID, bob, big.NewInt(30))
	if err != nil {
		t.Fatalf("placeBid 30: %v", err)
	}
	if auction.HighestBid.Cmp(big.NewInt(30)) != 0 || auction.HighestBidder != bob {
		t.Fatalf("highest bid %s by %x, want 30 by %x", auction.HighestBid, auction.HighestBidder, bob)
	}
	if balance, _ := engine.EscrowBalance(alice); balance.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("displaced bidder escrow = %s, want 20", balance)
	}
	checkConservation(t, state)
}

// Scenario: two equal bids serialized one after the other; the second is
// validated against current state and must fail.
func TestEqualBidsSerialized(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	first := newTestAddress(0x02)
	second := newTestAddress(0x03)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 86_400, big.NewInt(10)); err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	if _, err := engine.PlaceBid(item.ID, first, big.NewInt(50)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if _, err := engine.PlaceBid(item.ID, second, big.NewInt(50)); !errors.Is(err, ErrBidTooLow) {
		t.Fatalf("expected ErrBidTooLow for racing equal bid, got %v", err)
	}
}

func TestPlaceBidLifecycleGuards(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	bidder := newTestAddress(0x02)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.PlaceBid(item.ID, bidder, big.NewInt(20)); !errors.Is(err, ErrAuctionNotActive) {
		t.Fatalf("expected ErrAuctionNotActive before creation, got %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 100, big.NewInt(10)); err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 1_100 })
	if _, err := engine.PlaceBid(item.ID, bidder, big.NewInt(20)); !errors.Is(err, ErrAuctionExpired) {
		t.Fatalf("expected ErrAuctionExpired at deadline, got %v", err)
	}
}

// Scenario: ending early fails; ending an expired zero-bid auction succeeds
// with no ownership change and no funds moving.
func TestEndAuctionWithoutBids(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	seller := newTestAddress(0x01)
	anyone := newTestAddress(0x0F)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 100, big.NewInt(10)); err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	if _, err := engine.EndAuction(item.ID, anyone); !errors.Is(err, ErrAuctionNotExpired) {
		t.Fatalf("expected ErrAuctionNotExpired, got %v", err)
	}

	// Past the deadline the auction stays queryable and unsettled until
	// someone ends it.
	engine.SetNowFunc(func() int64 { return 2_000 })
	active, err := engine.ActiveAuctionIDs()
	if err != nil || len(active) != 1 || active[0] != item.ID {
		t.Fatalf("expired unsettled auction missing from active set: %v %v", active, err)
	}

	ended, err := engine.EndAuction(item.ID, anyone)
	if err != nil {
		t.Fatalf("endAuction: %v", err)
	}
	if !ended.Ended || ended.HasBid() {
		t.Fatalf("unexpected settled state: %+v", ended)
	}
	if got, _ := engine.OwnerOf(item.ID); got != seller {
		t.Fatal("ownership changed on zero-bid settlement")
	}
	if balance, _ := engine.EscrowBalance(seller); balance.Sign() != 0 {
		t.Fatalf("funds moved on zero-bid settlement: %s", balance)
	}
	if emitter.lastType() != EventTypeAuctionEnded {
		t.Fatalf("expected %s event, got %s", EventTypeAuctionEnded, emitter.lastType())
	}
	checkConservation(t, state)
}

func TestEndAuctionSettlesToWinner(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	winner := newTestAddress(0x02)
	anyone := newTestAddress(0x0F)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.CreateAuction(item.ID, seller, 100, big.NewInt(10)); err != nil {
		t.Fatalf("createAuction: %v", err)
	}
	if _, err := engine.PlaceBid(item.ID, winner, big.NewInt(40)); err != nil {
		t.Fatalf("placeBid: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 2_000 })
	if _, err := engine.EndAuction(item.ID, anyone); err != nil {
		t.Fatalf("endAuction: %v", err)
	}
	if got, _ := engine.OwnerOf(item.ID); got != winner {
		t.Fatalf("owner after settlement = %x, want %x", got, winner)
	}
	if balance, _ := engine.EscrowBalance(seller); balance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("seller escrow = %s, want 40", balance)
	}
	checkConservation(t, state)

	// Settlement is exactly-once.
	if _, err := engine.EndAuction(item.ID, anyone); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("expected ErrAlreadyEnded, got %v", err)
	}
	if got, _ := engine.OwnerOf(item.ID); got != winner {
		t.Fatal("repeated settlement changed state")
	}
	checkConservation(t, state)
}

func TestEndAuctionUnknownItem(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.EndAuction(5, newTestAddress(0x01)); !errors.Is(err, ErrAuctionNotActive) {
		t.Fatalf("expected ErrAuctionNotActive, got %v", err)
	}
}

func TestWithdrawZeroesBalance(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.Buy(item.ID, buyer, big.NewInt(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	amount, err := engine.Withdraw(seller)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("withdrawn %s, want 100", amount)
	}
	if _, err := engine.Withdraw(seller); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected ErrNothingToWithdraw, got %v", err)
	}
	checkConservation(t, state)
}

func TestAvailableItemIDsMintOrder(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	var ids []uint64
	for i := 0; i < 3; i++ {
		item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(10))
		if err != nil {
			t.Fatalf("mint+list: %v", err)
		}
		ids = append(ids, item.ID)
	}
	if _, err := engine.Buy(ids[1], newTestAddress(0x02), big.NewInt(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	available, err := engine.AvailableItemIDs()
	if err != nil {
		t.Fatalf("availableItemIDs: %v", err)
	}
	if len(available) != 2 || available[0] != ids[0] || available[1] != ids[2] {
		t.Fatalf("available = %v, want [%d %d]", available, ids[0], ids[2])
	}
}

// slowState widens the window between a record read and the following write so
// racing callers that are not serialized by the engine would interleave there.
type slowState struct {
	*mockState
	delay time.Duration
}

func (s *slowState) EscrowBalanceGet(addr [20]byte) (*big.Int, error) {
	balance, err := s.mockState.EscrowBalanceGet(addr)
	time.Sleep(s.delay)
	return balance, err
}

func (s *slowState) MarketItemGet(id uint64) (*Item, bool, error) {
	item, ok, err := s.mockState.MarketItemGet(id)
	time.Sleep(s.delay)
	return item, ok, err
}

// Two concurrent withdrawals of one credited balance: exactly one is paid and
// the other observes zero. Without the engine serializing its transitions both
// would read the balance before either zeroes it and both would be paid.
func TestConcurrentWithdrawalsPaySingleBalance(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	if _, err := engine.Buy(item.ID, buyer, big.NewInt(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	engine.SetState(&slowState{mockState: state, delay: 5 * time.Millisecond})

	amounts := make(chan *big.Int, 2)
	failures := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amount, err := engine.Withdraw(seller)
			if err != nil {
				failures <- err
				return
			}
			amounts <- amount
		}()
	}
	wg.Wait()
	close(amounts)
	close(failures)

	paid := big.NewInt(0)
	payouts := 0
	for amount := range amounts {
		payouts++
		paid.Add(paid, amount)
	}
	if payouts != 1 || paid.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("%d payouts totalling %s, want a single payout of 100", payouts, paid)
	}
	for err := range failures {
		if !errors.Is(err, ErrNothingToWithdraw) {
			t.Fatalf("losing withdrawal: expected ErrNothingToWithdraw, got %v", err)
		}
	}
	if balance, _ := engine.EscrowBalance(seller); balance.Sign() != 0 {
		t.Fatalf("balance after racing withdrawals = %s, want 0", balance)
	}
	checkConservation(t, state)
}

// Two concurrent purchases of one listed item: exactly one buyer wins and the
// seller is credited once.
func TestConcurrentBuysSellOnce(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	buyers := [][20]byte{newTestAddress(0x02), newTestAddress(0x03)}
	item, err := engine.MintListed("ipfs://cid", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	engine.SetState(&slowState{mockState: state, delay: 5 * time.Millisecond})

	failures := make(chan error, len(buyers))
	var wg sync.WaitGroup
	for _, buyer := range buyers {
		buyer := buyer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Buy(item.ID, buyer, big.NewInt(100)); err != nil {
				failures <- err
			}
		}()
	}
	wg.Wait()
	close(failures)

	rejected := 0
	for err := range failures {
		rejected++
		if !errors.Is(err, ErrNotForSale) {
			t.Fatalf("losing purchase: expected ErrNotForSale, got %v", err)
		}
	}
	if rejected != 1 {
		t.Fatalf("%d rejected purchases, want exactly 1", rejected)
	}
	owner, err := engine.OwnerOf(item.ID)
	if err != nil || (owner != buyers[0] && owner != buyers[1]) {
		t.Fatalf("owner after racing purchases = %x (%v)", owner, err)
	}
	if balance, _ := engine.EscrowBalance(seller); balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seller escrow = %s, want a single credit of 100", balance)
	}
	checkConservation(t, state)
}

// Exhaustive invariant sweep over a busy interleaving: listing and auction
// activity never overlap per item, ownership is always set, bids only climb,
// and money is conserved at every step.
func TestInterleavedOperationsHoldInvariants(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	seller := newTestAddress(0x01)
	alice := newTestAddress(0x02)
	bob := newTestAddress(0x03)

	listed, err := engine.MintListed("ipfs://listed", seller, big.NewInt(100))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}
	auctioned, err := engine.MintListed("ipfs://auctioned", seller, big.NewInt(500))
	if err != nil {
		t.Fatalf("mint+list: %v", err)
	}

	steps := []func() error{
		func() error { _, err := engine.CreateAuction(auctioned.ID, seller, 100, big.NewInt(10)); return err },
		func() error { _, err := engine.PlaceBid(auctioned.ID, alice, big.NewInt(20)); return err },
		func() error { _, err := engine.Buy(listed.ID, bob, big.NewInt(100)); return err },
		func() error { _, err := engine.PlaceBid(auctioned.ID, bob, big.NewInt(35)); return err },
		func() error { _, err := engine.Withdraw(alice); return err },
		func() error {
			engine.SetNowFunc(func() int64 { return 5_000 })
			_, err := engine.EndAuction(auctioned.ID, alice)
			return err
		},
		func() error { _, err := engine.Withdraw(seller); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		for _, id := range []uint64{listed.ID, auctioned.ID} {
			owner, err := engine.OwnerOf(id)
			if err != nil || owner == ([20]byte{}) {
				t.Fatalf("step %d: item %d has no owner (%v)", i, id, err)
			}
			available, _ := engine.IsAvailable(id)
			auction, err := engine.GetAuction(id)
			if err == nil && available && auction.Active(engine.now()) {
				t.Fatalf("step %d: item %d listed and under active auction", i, id)
			}
		}
		checkConservation(t, state)
	}
	if got, _ := engine.OwnerOf(auctioned.ID); got != bob {
		t.Fatalf("auction winner = %x, want %x", got, bob)
	}
}
