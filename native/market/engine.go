package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"moovemarket/core/events"
	"moovemarket/core/types"
)

var errNilState = errors.New("market engine: state not configured")

// engineState is the narrow persistence surface the engine depends on. The
// concrete implementation lives in core/state; tests supply an in-memory fake.
type engineState interface {
	MarketNextItemID() (uint64, error)
	MarketItemGet(id uint64) (*Item, bool, error)
	MarketItemPut(item *Item) error
	MarketItemIDs() ([]uint64, error)
	MarketListingGet(id uint64) (*Listing, bool, error)
	MarketListingPut(listing *Listing) error
	MarketAuctionGet(id uint64) (*Auction, bool, error)
	MarketAuctionExists(id uint64) (bool, error)
	MarketAuctionPut(auction *Auction) error
	EscrowBalanceGet(addr [20]byte) (*big.Int, error)
	EscrowBalancePut(addr [20]byte, amount *big.Int) error
	MarketTotalsGet() (*Totals, error)
	MarketTotalsPut(totals *Totals) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the marketplace transition logic with external state and event
// emission. Every exported operation is a single atomic step in a total order
// the engine enforces itself: a mutex serializes all state access, and each
// mutation validates fully against current state before the first write, so a
// losing racer observes a typed rejection and no partial effects.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadItem(id uint64) (*Item, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	item, ok, err := e.state.MarketItemGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// transferOwnership is the single mutation path for item ownership. Both the
// listing and auction transitions route through it; nothing else rewrites the
// owner field.
func transferOwnership(item *Item, from, to [20]byte) error {
	if item == nil {
		return ErrItemNotFound
	}
	if item.Owner != from {
		return ErrUnauthorized
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("market: transfer to zero address")
	}
	item.Owner = to
	return nil
}

func (e *Engine) creditEscrow(beneficiary [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil
	}
	balance, err := e.state.EscrowBalanceGet(beneficiary)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return e.state.EscrowBalancePut(beneficiary, new(big.Int).Add(balance, amt))
}

func (e *Engine) loadTotals() (*Totals, error) {
	totals, err := e.state.MarketTotalsGet()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

// Mint assigns the next item identifier and stores the item with the supplied
// owner. The identifier counter is strictly increasing and never reused.
func (e *Engine) Mint(contentRef string, owner [20]byte) (*Item, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(contentRef, owner)
}

func (e *Engine) mint(contentRef string, owner [20]byte) (*Item, error) {
	if e.state == nil {
		return nil, errNilState
	}
	item := &Item{Owner: owner, ContentRef: contentRef, Sale: SaleNone, MintedAt: e.now()}
	sanitized, err := SanitizeItem(item)
	if err != nil {
		return nil, err
	}
	id, err := e.state.MarketNextItemID()
	if err != nil {
		return nil, err
	}
	sanitized.ID = id
	if err := e.state.MarketItemPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewMintedEvent(sanitized))
	return sanitized.Clone(), nil
}

// CreateListing puts an item up for sale at a fixed price. The price is
// immutable afterwards; there is no re-pricing transition.
func (e *Engine) CreateListing(itemID uint64, price *big.Int) (*Listing, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createListing(itemID, price)
}

func (e *Engine) createListing(itemID uint64, price *big.Int) (*Listing, error) {
	item, err := e.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	if item.Sale == SaleAuctionActive {
		return nil, ErrAuctionAlreadyActive
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("market: listing price must be positive")
	}
	listing := &Listing{ItemID: itemID, Price: amount, ForSale: true}
	item.Sale = SaleListed
	if err := e.state.MarketItemPut(item); err != nil {
		return nil, err
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// MintListed mints a new item and lists it in the same atomic step. This is
// the transition exposed to sellers; Mint and CreateListing stay available as
// distinct capabilities.
func (e *Engine) MintListed(contentRef string, owner [20]byte, price *big.Int) (*Item, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cloneBigInt(price).Sign() <= 0 {
		return nil, fmt.Errorf("market: listing price must be positive")
	}
	item, err := e.mint(contentRef, owner)
	if err != nil {
		return nil, err
	}
	if _, err := e.createListing(item.ID, price); err != nil {
		return nil, err
	}
	item.Sale = SaleListed
	return item, nil
}

// Transfer rewrites the owner of an item after verifying the supplied current
// owner. It is exposed for registry completeness; marketplace settlements call
// the same path internally.
func (e *Engine) Transfer(itemID uint64, from, to [20]byte) error {
	if e == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, err := e.loadItem(itemID)
	if err != nil {
		return err
	}
	if err := transferOwnership(item, from, to); err != nil {
		return err
	}
	return e.state.MarketItemPut(item)
}

// OwnerOf returns the current owner of the item.
func (e *Engine) OwnerOf(itemID uint64) ([20]byte, error) {
	if e == nil {
		return [20]byte{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, err := e.loadItem(itemID)
	if err != nil {
		return [20]byte{}, err
	}
	return item.Owner, nil
}

// GetItem returns a copy of the stored item record.
func (e *Engine) GetItem(itemID uint64) (*Item, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, err := e.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// GetListing returns the fixed-price sale record for the item.
func (e *Engine) GetListing(itemID uint64) (*Listing, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	listing, ok, err := e.state.MarketListingGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrItemNotFound
	}
	return listing.Clone(), nil
}

// IsAvailable reports whether the item can currently be bought at its listed
// price.
func (e *Engine) IsAvailable(itemID uint64) (bool, error) {
	if e == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, err := e.loadItem(itemID)
	if err != nil {
		return false, err
	}
	return item.Sale == SaleListed, nil
}

// AvailableItemIDs returns the identifiers of all purchasable items in mint
// order.
func (e *Engine) AvailableItemIDs() ([]uint64, error) {
	return e.filterItems(func(item *Item) bool { return item.Sale == SaleListed })
}

// ActiveAuctionIDs returns the identifiers of all unsettled auctions in mint
// order. An auction past its deadline stays in this set until someone settles
// it; there is no internal timer.
func (e *Engine) ActiveAuctionIDs() ([]uint64, error) {
	return e.filterItems(func(item *Item) bool { return item.Sale == SaleAuctionActive })
}

// ItemIDs returns every minted item identifier in mint order.
func (e *Engine) ItemIDs() ([]uint64, error) {
	return e.filterItems(func(*Item) bool { return true })
}

func (e *Engine) filterItems(keep func(*Item) bool) ([]uint64, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.MarketItemIDs()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		item, ok, err := e.state.MarketItemGet(id)
		if err != nil {
			return nil, err
		}
		if ok && keep(item) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Buy purchases a listed item at its exact price. Ownership, the listing flag
// and the seller's escrow credit change together or not at all; the seller is
// paid through the escrow ledger so a recipient that cannot take funds can
// never block the sale.
func (e *Engine) Buy(itemID uint64, buyer [20]byte, payment *big.Int) (*Item, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, err := e.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	if item.Sale != SaleListed {
		return nil, ErrNotForSale
	}
	listing, ok, err := e.state.MarketListingGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.ForSale {
		return nil, ErrNotForSale
	}
	paid := cloneBigInt(payment)
	if paid.Cmp(listing.Price) != 0 {
		return nil, ErrInsufficientPayment
	}
	seller := item.Owner
	if err := transferOwnership(item, seller, buyer); err != nil {
		return nil, err
	}
	item.Sale = SaleNone
	listing.ForSale = false
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	totals.Accepted.Add(totals.Accepted, paid)
	if err := e.state.MarketItemPut(item); err != nil {
		return nil, err
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.creditEscrow(seller, paid); err != nil {
		return nil, err
	}
	if err := e.state.MarketTotalsPut(totals); err != nil {
		return nil, err
	}
	e.emit(NewBoughtEvent(itemID, buyer, paid))
	return item.Clone(), nil
}

// CreateAuction opens a timed auction for an item. Only the current owner may
// open one, and doing so atomically clears any fixed-price listing so an item
// is never simultaneously listed and under auction.
func (e *Engine) CreateAuction(itemID uint64, caller [20]byte, duration int64, startBid *big.Int) (*Auction, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	item, err := e.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	if item.Owner != caller {
		return nil, ErrUnauthorized
	}
	if exists, err := e.state.MarketAuctionExists(itemID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAuctionAlreadyActive
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	start := cloneBigInt(startBid)
	if start.Sign() < 0 {
		return nil, fmt.Errorf("market: start bid must be non-negative")
	}
	now := e.now()
	auction := &Auction{
		ItemID:     itemID,
		Seller:     caller,
		StartBid:   start,
		HighestBid: new(big.Int).Set(start),
		EndTime:    now + duration,
		CreatedAt:  now,
	}
	if item.Sale == SaleListed {
		listing, ok, err := e.state.MarketListingGet(itemID)
		if err != nil {
			return nil, err
		}
		if ok && listing.ForSale {
			listing.ForSale = false
			if err := e.state.MarketListingPut(listing); err != nil {
				return nil, err
			}
		}
	}
	item.Sale = SaleAuctionActive
	if err := e.state.MarketItemPut(item); err != nil {
		return nil, err
	}
	if err := e.state.MarketAuctionPut(auction); err != nil {
		return nil, err
	}
	e.emit(NewAuctionCreatedEvent(auction))
	return auction.Clone(), nil
}

// PlaceBid records a strictly higher bid against an active auction. The
// displaced bidder's funds become withdrawable through the escrow ledger; the
// new bid is held by the engine until settlement. The bid is validated against
// the current highest bid, never a caller-side snapshot, so of two equal bids
// serialized by the sequencer the second always fails.
func (e *Engine) PlaceBid(itemID uint64, bidder [20]byte, amount *big.Int) (*Auction, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	auction, ok, err := e.state.MarketAuctionGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok || auction.Ended {
		return nil, ErrAuctionNotActive
	}
	if e.now() >= auction.EndTime {
		return nil, ErrAuctionExpired
	}
	bid := cloneBigInt(amount)
	if bid.Cmp(auction.HighestBid) <= 0 {
		return nil, ErrBidTooLow
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	if auction.HasBid() {
		if err := e.creditEscrow(auction.HighestBidder, auction.HighestBid); err != nil {
			return nil, err
		}
		totals.Held.Sub(totals.Held, auction.HighestBid)
	}
	totals.Accepted.Add(totals.Accepted, bid)
	totals.Held.Add(totals.Held, bid)
	auction.HighestBid = bid
	auction.HighestBidder = bidder
	if err := e.state.MarketAuctionPut(auction); err != nil {
		return nil, err
	}
	if err := e.state.MarketTotalsPut(totals); err != nil {
		return nil, err
	}
	e.emit(NewBidPlacedEvent(itemID, bidder, bid))
	return auction.Clone(), nil
}

// EndAuction settles an expired auction. Anyone may call it once the deadline
// has passed, so an auction can never be stuck unsettled. With no bids the
// item stays with the seller and no funds move; otherwise ownership goes to
// the highest bidder and the winning bid becomes withdrawable by the seller.
// A second settlement attempt is rejected and changes nothing.
func (e *Engine) EndAuction(itemID uint64, caller [20]byte) (*Auction, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	auction, ok, err := e.state.MarketAuctionGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuctionNotActive
	}
	if auction.Ended {
		return nil, ErrAlreadyEnded
	}
	if e.now() < auction.EndTime {
		return nil, ErrAuctionNotExpired
	}
	item, err := e.loadItem(itemID)
	if err != nil {
		return nil, err
	}
	auction.Ended = true
	item.Sale = SaleAuctionEnded
	if auction.HasBid() {
		seller := item.Owner
		if err := transferOwnership(item, seller, auction.HighestBidder); err != nil {
			return nil, err
		}
		totals, err := e.loadTotals()
		if err != nil {
			return nil, err
		}
		totals.Held.Sub(totals.Held, auction.HighestBid)
		if err := e.creditEscrow(seller, auction.HighestBid); err != nil {
			return nil, err
		}
		if err := e.state.MarketTotalsPut(totals); err != nil {
			return nil, err
		}
	}
	if err := e.state.MarketItemPut(item); err != nil {
		return nil, err
	}
	if err := e.state.MarketAuctionPut(auction); err != nil {
		return nil, err
	}
	e.emit(NewAuctionEndedEvent(auction))
	return auction.Clone(), nil
}

// GetAuction returns the auction record for the item, settled or not.
func (e *Engine) GetAuction(itemID uint64) (*Auction, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	auction, ok, err := e.state.MarketAuctionGet(itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrItemNotFound
	}
	return auction.Clone(), nil
}

// EscrowBalance returns the beneficiary's current withdrawable balance.
func (e *Engine) EscrowBalance(beneficiary [20]byte) (*big.Int, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.EscrowBalanceGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// Withdraw zeroes and returns the beneficiary's escrow balance. The caller is
// responsible for moving the returned value; the engine only does the
// bookkeeping, which is what keeps a hostile recipient from blocking other
// transitions. The engine lock makes the zero-and-return exclusive: of two
// racing withdrawals only one observes a balance.
func (e *Engine) Withdraw(beneficiary [20]byte) (*big.Int, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.EscrowBalanceGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	amount := new(big.Int).Set(balance)
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	totals.Withdrawn.Add(totals.Withdrawn, amount)
	if err := e.state.EscrowBalancePut(beneficiary, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.state.MarketTotalsPut(totals); err != nil {
		return nil, err
	}
	return amount, nil
}

// Totals returns the engine's running fund accounting.
func (e *Engine) Totals() (*Totals, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadTotals()
}
