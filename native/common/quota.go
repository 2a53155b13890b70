package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaMintCapExceeded  = errors.New("quota mint cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
// WeiMinted is arbitrary precision; single mints routinely exceed 64 bits at
// 18 decimals.
type QuotaNow struct {
	ReqCount  uint32
	WeiMinted *big.Int
	EpochID   uint64
}

// Quota defines the limits enforced for a module interaction per address. A
// nil or zero MaxMintWeiPerEpoch disables the wei cap.
type Quota struct {
	MaxRequestsPerMin  uint32
	MaxMintWeiPerEpoch *big.Int
	EpochSeconds       uint32
}

// CheckQuota verifies whether the additional request and mint usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded; on denial the previous counters are returned
// untouched.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addWei *big.Int) (QuotaNow, error) {
	next := QuotaNow{EpochID: nowEpoch, WeiMinted: big.NewInt(0)}
	if prev.EpochID == nowEpoch {
		next.ReqCount = prev.ReqCount
		if prev.WeiMinted != nil {
			next.WeiMinted.Set(prev.WeiMinted)
		}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addWei != nil && addWei.Sign() > 0 {
		next.WeiMinted.Add(next.WeiMinted, addWei)
	}
	if q.MaxMintWeiPerEpoch != nil && q.MaxMintWeiPerEpoch.Sign() > 0 && next.WeiMinted.Cmp(q.MaxMintWeiPerEpoch) > 0 {
		return prev, ErrQuotaMintCapExceeded
	}

	return next, nil
}
