package rpc

import (
	"net/http"
	"strings"

	"eurstable/observability"
)

type poolCreateVaultParams struct {
	Asset string `json:"asset"`
}

type poolCreateVaultResult struct {
	Asset        string `json:"asset"`
	VaultAddress string `json:"vaultAddress"`
}

type poolCollateralParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type poolWithdrawParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Shares string `json:"shares"`
}

type poolDebtParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type poolLiquidateParams struct {
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
}

type poolAccountParams struct {
	Account string `json:"account"`
}

type poolAssetParams struct {
	Asset string `json:"asset"`
}

type poolAmountResult struct {
	Amount string `json:"amount"`
}

type poolSharesResult struct {
	Shares string `json:"shares"`
}

type poolLiquidateResult struct {
	Repaid    string `json:"repaid"`
	SeizedEUR string `json:"seizedEur"`
}

type poolHealthResult struct {
	Account string `json:"account"`
	Ratio   string `json:"ratio"`
	Healthy bool   `json:"healthy"`
}

type poolVaultStateResult struct {
	Asset           string `json:"asset"`
	VaultAddress    string `json:"vaultAddress"`
	TotalShares     string `json:"totalShares"`
	TotalCollateral string `json:"totalCollateral"`
	IdleBalance     string `json:"idleBalance"`
	DeployedBalance string `json:"deployedBalance"`
}

func (s *Server) handlePoolCreateVault(w http.ResponseWriter, req *RPCRequest) {
	var params poolCreateVaultParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	if asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
		return
	}
	assetToken, err := s.backends.AssetTransferor(asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no transfer backend for asset", err.Error())
		return
	}
	yield, err := s.backends.YieldSource(asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no yield backend for asset", err.Error())
		return
	}
	feed, err := s.backends.PriceFeed(asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no price feed for asset", err.Error())
		return
	}
	created, err := s.engine.CreateVault(s.engine.Authority(), asset, assetToken, yield, feed)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolCreateVaultResult{Asset: asset, VaultAddress: created.Address().String()})
}

func (s *Server) handlePoolDepositCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params poolCollateralParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	from, err := parseAddressField("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmountField("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := s.engine.DepositCollateral(from, params.Asset, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolSharesResult{Shares: shares.String()})
}

func (s *Server) handlePoolWithdrawCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params poolWithdrawParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	from, err := parseAddressField("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmountField("shares", params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := s.engine.WithdrawCollateral(from, params.Asset, shares, s.now())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolAmountResult{Amount: amount.String()})
}

func (s *Server) handlePoolMintDebt(w http.ResponseWriter, req *RPCRequest) {
	var params poolDebtParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	from, err := parseAddressField("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmountField("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.engine.MintDebt(from, amount, s.now())
	observability.Pool().RecordMint(err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	observability.Pool().RecordSupply(s.stable.TotalSupply())
	writeResult(w, req.ID, poolAmountResult{Amount: amount.String()})
}

func (s *Server) handlePoolRepayDebt(w http.ResponseWriter, req *RPCRequest) {
	var params poolDebtParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	from, err := parseAddressField("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmountField("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	repaid, err := s.engine.RepayDebt(from, amount, s.now())
	observability.Pool().RecordBurn(err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	observability.Pool().RecordSupply(s.stable.TotalSupply())
	writeResult(w, req.ID, poolAmountResult{Amount: repaid.String()})
}

func (s *Server) handlePoolLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var params poolLiquidateParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	liquidator, err := parseAddressField("liquidator", params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddressField("borrower", params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	repaid, seized, err := s.engine.Liquidate(liquidator, borrower, s.now())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	observability.Pool().RecordLiquidation()
	observability.Pool().RecordSupply(s.stable.TotalSupply())
	writeResult(w, req.ID, poolLiquidateResult{Repaid: repaid.String(), SeizedEUR: seized.String()})
}

func (s *Server) handlePoolHealthRatio(w http.ResponseWriter, req *RPCRequest) {
	var params poolAccountParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	account, err := parseAddressField("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ratio, err := s.engine.HealthRatio(account, s.now())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	threshold := s.engine.Params().LiquidationThreshold
	healthy := true
	if ratio.IsUint64() {
		healthy = ratio.Uint64() >= threshold
	}
	writeResult(w, req.ID, poolHealthResult{
		Account: account.String(),
		Ratio:   ratioString(ratio),
		Healthy: healthy,
	})
}

func (s *Server) handlePoolDebtOf(w http.ResponseWriter, req *RPCRequest) {
	var params poolAccountParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	account, err := parseAddressField("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, poolAmountResult{Amount: s.engine.DebtOf(account, s.now()).String()})
}

func (s *Server) handlePoolCollateralValue(w http.ResponseWriter, req *RPCRequest) {
	var params poolAccountParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	account, err := parseAddressField("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := s.engine.CollateralValueEUR(account, s.now())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolAmountResult{Amount: value.String()})
}

func (s *Server) handlePoolVaults(w http.ResponseWriter, req *RPCRequest) {
	if hasParams(req) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	assets := s.engine.Assets()
	if assets == nil {
		assets = []string{}
	}
	writeResult(w, req.ID, assets)
}

func (s *Server) handlePoolVaultState(w http.ResponseWriter, req *RPCRequest) {
	var params poolAssetParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	v, err := s.engine.Vault(params.Asset)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolVaultStateResult{
		Asset:           v.Asset(),
		VaultAddress:    v.Address().String(),
		TotalShares:     v.TotalShares().String(),
		TotalCollateral: v.TotalCollateral().String(),
		IdleBalance:     v.IdleBalance().String(),
		DeployedBalance: v.DeployedBalance().String(),
	})
}

type assetFundParams struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleAssetFund(w http.ResponseWriter, req *RPCRequest) {
	funder, ok := s.backends.(Funder)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "asset funding not supported by this deployment", nil)
		return
	}
	var params assetFundParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	account, err := parseAddressField("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmountField("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := funder.Fund(params.Asset, account, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolAmountResult{Amount: amount.String()})
}
