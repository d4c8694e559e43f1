package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"moovemarket/native/market"
)

type mintParams struct {
	ContentRef string `json:"contentRef"`
	Owner      string `json:"owner"`
	Price      string `json:"price"`
}

type buyParams struct {
	ItemID  uint64 `json:"itemId"`
	Buyer   string `json:"buyer"`
	Payment string `json:"payment"`
}

type createAuctionParams struct {
	ItemID   uint64 `json:"itemId"`
	Caller   string `json:"caller"`
	Duration int64  `json:"duration"`
	StartBid string `json:"startBid"`
}

type placeBidParams struct {
	ItemID uint64 `json:"itemId"`
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

type endAuctionParams struct {
	ItemID uint64 `json:"itemId"`
	Caller string `json:"caller"`
}

type itemIDParams struct {
	ItemID uint64 `json:"itemId"`
}

type beneficiaryParams struct {
	Beneficiary string `json:"beneficiary"`
}

type itemJSON struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	ContentRef string `json:"contentRef"`
	ForSale    bool   `json:"forSale"`
	MintedAt   int64  `json:"mintedAt"`
}

type listingJSON struct {
	ItemID  uint64 `json:"itemId"`
	Price   string `json:"price"`
	ForSale bool   `json:"forSale"`
}

type auctionJSON struct {
	ItemID        uint64  `json:"itemId"`
	Seller        string  `json:"seller"`
	StartBid      string  `json:"startBid"`
	HighestBid    string  `json:"highestBid"`
	HighestBidder *string `json:"highestBidder,omitempty"`
	EndTime       int64   `json:"endTime"`
	Ended         bool    `json:"ended"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type ownerResult struct {
	Owner string `json:"owner"`
}

type itemIDsResult struct {
	ItemIDs []uint64 `json:"itemIds"`
}

type totalsResult struct {
	Accepted  string `json:"accepted"`
	Held      string `json:"held"`
	Withdrawn string `json:"withdrawn"`
}

func formatAddress(addr [20]byte) string {
	return ethcommon.BytesToAddress(addr[:]).Hex()
}

func parseAddress(value string) ([20]byte, error) {
	if !ethcommon.IsHexAddress(value) {
		return [20]byte{}, fmt.Errorf("invalid address: %q", value)
	}
	return ethcommon.HexToAddress(value), nil
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative: %q", value)
	}
	return amount, nil
}

func itemToJSON(item *market.Item) itemJSON {
	return itemJSON{
		ID:         item.ID,
		Owner:      formatAddress(item.Owner),
		ContentRef: item.ContentRef,
		ForSale:    item.Sale == market.SaleListed,
		MintedAt:   item.MintedAt,
	}
}

func auctionToJSON(auction *market.Auction) auctionJSON {
	out := auctionJSON{
		ItemID:     auction.ItemID,
		Seller:     formatAddress(auction.Seller),
		StartBid:   auction.StartBid.String(),
		HighestBid: auction.HighestBid.String(),
		EndTime:    auction.EndTime,
		Ended:      auction.Ended,
	}
	if auction.HasBid() {
		bidder := formatAddress(auction.HighestBidder)
		out.HighestBidder = &bidder
	}
	return out
}

// marketError maps an engine rejection onto an HTTP status and JSON-RPC error
// code. Unknown errors surface as internal server failures.
func marketError(err error) (int, int, string) {
	switch {
	case errors.Is(err, market.ErrItemNotFound):
		return http.StatusNotFound, codeMarketNotFound, "item_not_found"
	case errors.Is(err, market.ErrUnauthorized):
		return http.StatusForbidden, codeMarketForbidden, "unauthorized"
	case errors.Is(err, market.ErrNotForSale):
		return http.StatusConflict, codeMarketConflict, "not_for_sale"
	case errors.Is(err, market.ErrAuctionAlreadyActive):
		return http.StatusConflict, codeMarketConflict, "auction_already_active"
	case errors.Is(err, market.ErrAuctionNotActive):
		return http.StatusConflict, codeMarketConflict, "auction_not_active"
	case errors.Is(err, market.ErrAuctionExpired):
		return http.StatusConflict, codeMarketConflict, "auction_expired"
	case errors.Is(err, market.ErrAuctionNotExpired):
		return http.StatusConflict, codeMarketConflict, "auction_not_expired"
	case errors.Is(err, market.ErrAlreadyEnded):
		return http.StatusConflict, codeMarketConflict, "already_ended"
	case errors.Is(err, market.ErrInsufficientPayment):
		return http.StatusBadRequest, codeMarketRejected, "insufficient_payment"
	case errors.Is(err, market.ErrBidTooLow):
		return http.StatusBadRequest, codeMarketRejected, "bid_too_low"
	case errors.Is(err, market.ErrInvalidDuration):
		return http.StatusBadRequest, codeMarketRejected, "invalid_duration"
	case errors.Is(err, market.ErrNothingToWithdraw):
		return http.StatusConflict, codeMarketConflict, "nothing_to_withdraw"
	default:
		return http.StatusInternalServerError, codeServerError, "internal_error"
	}
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	status, code, message := marketError(err)
	writeError(w, status, id, code, message, err.Error())
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
		return
	}
	var params mintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	item, err := s.engine.MintListed(params.ContentRef, owner, price)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, itemToJSON(item))
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
		return
	}
	var params buyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	item, err := s.engine.Buy(params.ItemID, buyer, payment)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, itemToJSON(item))
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
		return
	}
	var params createAuctionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	startBid, err := parseAmount(params.StartBid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auction, err := s.engine.CreateAuction(params.ItemID, caller, params.Duration, startBid)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionToJSON(auction))
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
		return
	}
	var params placeBidParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auction, err := s.engine.PlaceBid(params.ItemID, bidder, amount)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionToJSON(auction))
}

func (s *Server) handleEndAuction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
		return
	}
	var params endAuctionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auction, err := s.engine.EndAuction(params.ItemID, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionToJSON(auction))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, nil)
		return
	}
	var params beneficiaryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary, err := parseAddress(params.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.Withdraw(beneficiary)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	if s.onWithdraw != nil {
		s.onWithdraw()
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, req *RPCRequest) {
	var params itemIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	auction, err := s.engine.GetAuction(params.ItemID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionToJSON(auction))
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params itemIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.engine.GetListing(params.ItemID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingJSON{ItemID: listing.ItemID, Price: listing.Price.String(), ForSale: listing.ForSale})
}

func (s *Server) handleOwnerOf(w http.ResponseWriter, req *RPCRequest) {
	var params itemIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := s.engine.OwnerOf(params.ItemID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ownerResult{Owner: formatAddress(owner)})
}

func (s *Server) handleListAvailable(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.engine.AvailableItemIDs()
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, itemIDsResult{ItemIDs: ids})
}

func (s *Server) handleListActiveAuctions(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.engine.ActiveAuctionIDs()
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, itemIDsResult{ItemIDs: ids})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, req *RPCRequest) {
	var params beneficiaryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary, err := parseAddress(params.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.EscrowBalance(beneficiary)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleTotals(w http.ResponseWriter, req *RPCRequest) {
	totals, err := s.engine.Totals()
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, totalsResult{
		Accepted:  totals.Accepted.String(),
		Held:      totals.Held.String(),
		Withdrawn: totals.Withdrawn.String(),
	})
}
