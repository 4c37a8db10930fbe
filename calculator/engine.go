// Package calculator turns an activity's cost configuration, its recorded
// expenses and its eligible participants into a bill breakdown. It performs no
// I/O and holds no state.
package calculator

import (
	"math/big"
	"sort"

	apperrors "activity-ledger/errors"
	"activity-ledger/models"
	"activity-ledger/money"
)

// Result is the computed part of a Bill. Identical inputs always produce an
// identical Result.
type Result struct {
	ExpenseTotalCost   money.Money
	BaseTotalCost      money.Money
	UseCustomTotalCost bool
	CustomTotalCost    *money.Money
	TotalCost          money.Money
	OrganizerCost      money.Money
	ShareableTotal     money.Money
	ParticipantCount   int
	TotalRatio         money.Money
	AverageCost        money.Money
	Details            []models.BillDetail
}

// ComputeBill splits the activity's shareable cost across participants by
// ratio. Participants whose status is not eligible are ignored. The returned
// detail shares always sum to ShareableTotal unless TotalRatio is zero, in
// which case there are no details.
func ComputeBill(activity models.Activity, expenses []models.ExpenseLine, participants []models.ParticipantRecord) (Result, error) {
	var res Result

	for _, e := range expenses {
		res.ExpenseTotalCost = res.ExpenseTotalCost.Add(e.Amount)
	}

	res.BaseTotalCost = res.ExpenseTotalCost
	if activity.DeclaredTotalCost != nil {
		res.BaseTotalCost = *activity.DeclaredTotalCost
	}

	res.UseCustomTotalCost = activity.UseCustomTotalCost
	if activity.CustomTotalCost != nil {
		v := *activity.CustomTotalCost
		res.CustomTotalCost = &v
	}
	res.OrganizerCost = activity.OrganizerCost

	eligible := StableOrder(Eligible(participants))
	res.ParticipantCount = len(eligible)
	for _, p := range eligible {
		res.TotalRatio = res.TotalRatio.Add(p.Ratio)
	}

	if activity.IsFree {
		res.Details = make([]models.BillDetail, len(eligible))
		for i, p := range eligible {
			res.Details[i] = detail(i, p, money.Zero)
		}
		return res, nil
	}

	if activity.UseCustomTotalCost {
		if activity.CustomTotalCost == nil {
			return Result{}, apperrors.InvalidCustomTotal("")
		}
		if activity.CustomTotalCost.IsNegative() {
			return Result{}, apperrors.InvalidCustomTotal(activity.CustomTotalCost.String())
		}
		res.TotalCost = *activity.CustomTotalCost
	} else {
		res.TotalCost = res.BaseTotalCost
	}

	res.ShareableTotal = money.Max(money.Zero, res.TotalCost.Sub(activity.OrganizerCost)).Round()

	if !res.TotalRatio.IsPositive() {
		res.Details = []models.BillDetail{}
		return res, nil
	}

	res.AverageCost = res.ShareableTotal.DivRound(res.TotalRatio)

	shares := make([]int64, len(eligible))
	var sum int64
	for i, p := range eligible {
		shares[i] = res.AverageCost.Mul(p.Ratio).MinorUnits()
		sum += shares[i]
	}
	distributeRemainder(shares, eligible, res.ShareableTotal.MinorUnits()-sum)

	res.Details = make([]models.BillDetail, len(eligible))
	for i, p := range eligible {
		res.Details[i] = detail(i, p, money.FromMinorUnits(shares[i]))
	}
	return res, nil
}

// distributeRemainder moves delta minor units onto participants with a
// positive ratio so the shares hit the shareable total exactly. A delta no
// larger than the candidate count goes one unit each to the first candidates
// in order; a larger one is spread by ratio. A share is never taken below
// zero.
func distributeRemainder(shares []int64, participants []models.ParticipantRecord, delta int64) {
	for delta != 0 {
		var candidates []int
		for i, p := range participants {
			if !p.Ratio.IsPositive() {
				continue
			}
			if delta < 0 && shares[i] == 0 {
				continue
			}
			candidates = append(candidates, i)
		}
		if len(candidates) == 0 {
			return
		}

		if abs(delta) <= int64(len(candidates)) {
			step := int64(1)
			if delta < 0 {
				step = -1
			}
			for _, i := range candidates[:abs(delta)] {
				shares[i] += step
			}
			return
		}
		delta -= spreadByRatio(shares, participants, candidates, delta)
	}
}

// spreadByRatio splits |delta| units across candidates in proportion to their
// ratios. Leftover units go to the largest remainders, earlier participants
// first on ties. It returns the signed amount actually applied, which falls
// short of delta only when a negative portion is clamped at zero.
func spreadByRatio(shares []int64, participants []models.ParticipantRecord, candidates []int, delta int64) int64 {
	units := big.NewInt(abs(delta))
	weights := make([]*big.Int, len(candidates))
	total := new(big.Int)
	for k, i := range candidates {
		weights[k] = big.NewInt(participants[i].Ratio.MinorUnits())
		total.Add(total, weights[k])
	}

	portions := make([]int64, len(candidates))
	remainders := make([]*big.Int, len(candidates))
	var assigned int64
	for k, w := range weights {
		q, r := new(big.Int).QuoRem(new(big.Int).Mul(units, w), total, new(big.Int))
		portions[k] = q.Int64()
		remainders[k] = r
		assigned += portions[k]
	}

	order := make([]int, len(candidates))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].Cmp(remainders[order[b]]) > 0
	})
	for _, k := range order[:abs(delta)-assigned] {
		portions[k]++
	}

	var applied int64
	for k, i := range candidates {
		if delta > 0 {
			shares[i] += portions[k]
			applied += portions[k]
			continue
		}
		amount := min(portions[k], shares[i])
		shares[i] -= amount
		applied -= amount
	}
	return applied
}

// Eligible keeps the participants that share cost.
func Eligible(participants []models.ParticipantRecord) []models.ParticipantRecord {
	out := make([]models.ParticipantRecord, 0, len(participants))
	for _, p := range participants {
		if p.Status.IsEligible() {
			out = append(out, p)
		}
	}
	return out
}

// StableOrder returns a copy sorted by registration time, then id.
func StableOrder(participants []models.ParticipantRecord) []models.ParticipantRecord {
	out := make([]models.ParticipantRecord, len(participants))
	copy(out, participants)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ApplyTo copies the computed fields onto bill, replacing its details.
func (r Result) ApplyTo(bill *models.Bill) {
	bill.ExpenseTotalCost = r.ExpenseTotalCost
	bill.BaseTotalCost = r.BaseTotalCost
	bill.UseCustomTotalCost = r.UseCustomTotalCost
	bill.CustomTotalCost = r.CustomTotalCost
	bill.TotalCost = r.TotalCost
	bill.OrganizerCost = r.OrganizerCost
	bill.ShareableTotal = r.ShareableTotal
	bill.ParticipantCount = r.ParticipantCount
	bill.TotalRatio = r.TotalRatio
	bill.AverageCost = r.AverageCost
	bill.Details = make([]models.BillDetail, len(r.Details))
	for i, d := range r.Details {
		d.BillID = bill.ID
		bill.Details[i] = d
	}
}

func detail(position int, p models.ParticipantRecord, share money.Money) models.BillDetail {
	return models.BillDetail{
		Position:      position,
		ParticipantID: p.ID,
		UserID:        p.UserID,
		Ratio:         p.Ratio,
		ShareCost:     share,
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
