package rpc

import (
	"math/big"
	"net/http"
	"strings"
)

type tokenBalanceParams struct {
	Address string `json:"address"`
}

type tokenBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type tokenSupplyResult struct {
	TotalSupply string `json:"totalSupply"`
}

type oracleSetPriceParams struct {
	Asset    string `json:"asset"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

type oraclePriceParams struct {
	Asset string `json:"asset"`
}

type oraclePriceResult struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, req *RPCRequest) {
	var params tokenBalanceParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	account, err := parseAddressField("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, tokenBalanceResult{
		Address: account.String(),
		Balance: s.stable.BalanceOf(account).String(),
	})
}

func (s *Server) handleTokenTotalSupply(w http.ResponseWriter, req *RPCRequest) {
	if hasParams(req) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	writeResult(w, req.ID, tokenSupplyResult{TotalSupply: s.stable.TotalSupply().String()})
}

func (s *Server) handleOracleSetPrice(w http.ResponseWriter, req *RPCRequest) {
	if s.prices == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "no static price feed configured", nil)
		return
	}
	var params oracleSetPriceParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(params.Price), 10)
	if !ok || price.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price: expected positive decimal string", nil)
		return
	}
	observed := s.now()
	s.prices.SetPrice(asset, price, params.Decimals, observed)
	writeResult(w, req.ID, oraclePriceResult{
		Asset:     asset,
		Price:     price.String(),
		Decimals:  params.Decimals,
		Timestamp: observed.Unix(),
		Source:    "static",
	})
}

func (s *Server) handleOraclePrice(w http.ResponseWriter, req *RPCRequest) {
	var params oraclePriceParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	quote, err := s.engine.LatestPrice(params.Asset, s.now())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, oraclePriceResult{
		Asset:     strings.ToUpper(strings.TrimSpace(params.Asset)),
		Price:     quote.Price.String(),
		Decimals:  quote.Decimals,
		Timestamp: quote.Timestamp.Unix(),
		Source:    quote.Source,
	})
}
