package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"moovemarket/native/market"
	"moovemarket/storage"
)

var (
	keyMarketSeq    = []byte("market/seq")
	keyMarketTotals = []byte("market/totals")

	prefixItem    = []byte("market/item/")
	prefixListing = []byte("market/listing/")
	prefixAuction = []byte("market/auction/")
	prefixEscrow  = []byte("market/escrow/")
)

// MarketState persists marketplace records in a key-value database under
// typed key prefixes. Item-keyed records use big-endian identifiers so an
// ascending key scan yields mint order. It implements the engine's state
// interface; all records are sanitized on write and cloned on read.
type MarketState struct {
	db storage.Database
}

// NewMarketState wraps the supplied database.
func NewMarketState(db storage.Database) *MarketState {
	return &MarketState{db: db}
}

func itemKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func escrowKey(addr [20]byte) []byte {
	return append(append([]byte(nil), prefixEscrow...), hex.EncodeToString(addr[:])...)
}

func (s *MarketState) putJSON(key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

func (s *MarketState) getJSON(key []byte, v interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, v)
}

// MarketNextItemID increments and persists the item counter, returning the
// newly assigned identifier. The counter is strictly increasing and survives
// restarts.
func (s *MarketState) MarketNextItemID() (uint64, error) {
	var next uint64 = 1
	raw, err := s.db.Get(keyMarketSeq)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if len(raw) != 8 {
			return 0, fmt.Errorf("state: malformed item counter")
		}
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.db.Put(keyMarketSeq, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// MarketItemGet loads the item with the given identifier.
func (s *MarketState) MarketItemGet(id uint64) (*market.Item, bool, error) {
	item := &market.Item{}
	ok, err := s.getJSON(itemKey(prefixItem, id), item)
	if err != nil || !ok {
		return nil, false, err
	}
	return item, true, nil
}

// MarketItemPut sanitizes and stores the item record.
func (s *MarketState) MarketItemPut(item *market.Item) error {
	sanitized, err := market.SanitizeItem(item)
	if err != nil {
		return err
	}
	return s.putJSON(itemKey(prefixItem, sanitized.ID), sanitized)
}

// MarketItemIDs returns every stored item identifier in mint order.
func (s *MarketState) MarketItemIDs() ([]uint64, error) {
	var ids []uint64
	err := s.db.Iterate(prefixItem, func(key, _ []byte) error {
		if len(key) != len(prefixItem)+8 {
			return fmt.Errorf("state: malformed item key")
		}
		ids = append(ids, binary.BigEndian.Uint64(key[len(prefixItem):]))
		return nil
	})
	return ids, err
}

// MarketListingGet loads the listing for the given item.
func (s *MarketState) MarketListingGet(id uint64) (*market.Listing, bool, error) {
	listing := &market.Listing{}
	ok, err := s.getJSON(itemKey(prefixListing, id), listing)
	if err != nil || !ok {
		return nil, false, err
	}
	return listing, true, nil
}

// MarketListingPut sanitizes and stores the listing record.
func (s *MarketState) MarketListingPut(listing *market.Listing) error {
	sanitized, err := market.SanitizeListing(listing)
	if err != nil {
		return err
	}
	return s.putJSON(itemKey(prefixListing, sanitized.ItemID), sanitized)
}

// MarketAuctionGet loads the auction record for the given item.
func (s *MarketState) MarketAuctionGet(id uint64) (*market.Auction, bool, error) {
	auction := &market.Auction{}
	ok, err := s.getJSON(itemKey(prefixAuction, id), auction)
	if err != nil || !ok {
		return nil, false, err
	}
	return auction, true, nil
}

// MarketAuctionExists reports whether an auction record is stored for the
// item, without decoding it.
func (s *MarketState) MarketAuctionExists(id uint64) (bool, error) {
	return s.db.Has(itemKey(prefixAuction, id))
}

// MarketAuctionPut sanitizes and stores the auction record.
func (s *MarketState) MarketAuctionPut(auction *market.Auction) error {
	sanitized, err := market.SanitizeAuction(auction)
	if err != nil {
		return err
	}
	return s.putJSON(itemKey(prefixAuction, sanitized.ItemID), sanitized)
}

// EscrowBalanceGet returns the stored withdrawable balance for the address. A
// missing entry reads as zero.
func (s *MarketState) EscrowBalanceGet(addr [20]byte) (*big.Int, error) {
	raw, err := s.db.Get(escrowKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: malformed escrow balance for %x", addr)
	}
	return balance, nil
}

// EscrowBalancePut stores the withdrawable balance for the address.
func (s *MarketState) EscrowBalancePut(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative escrow balance for %x", addr)
	}
	return s.db.Put(escrowKey(addr), []byte(amount.String()))
}

// MarketTotalsGet returns the running fund accounting, zeroed when absent.
func (s *MarketState) MarketTotalsGet() (*market.Totals, error) {
	totals := &market.Totals{}
	ok, err := s.getJSON(keyMarketTotals, totals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&market.Totals{}).Clone(), nil
	}
	return totals.Clone(), nil
}

// MarketTotalsPut stores the running fund accounting.
func (s *MarketState) MarketTotalsPut(totals *market.Totals) error {
	return s.putJSON(keyMarketTotals, totals.Clone())
}
