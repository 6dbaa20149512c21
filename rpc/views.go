package rpc

import (
	"encoding/hex"
	"math/big"

	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/native/rewards"
	"gridmarket/native/staking"
)

// Amounts are rendered as decimal strings so that clients never lose
// precision on large balances.

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type StakeView struct {
	Account string `json:"account"`
	Exists  bool   `json:"exists"`
	Amount  string `json:"amount"`
	Active  string `json:"active"`
	Locked  string `json:"locked"`
}

func stakeView(account string, acct *staking.Account, exists bool) StakeView {
	view := StakeView{Account: account, Exists: exists, Amount: "0", Active: "0", Locked: "0"}
	if acct != nil {
		view.Amount = amountString(acct.Amount)
		view.Active = amountString(acct.Active)
		view.Locked = amountString(acct.Locked)
	}
	return view
}

type ConfigView struct {
	CPU      uint64 `json:"cpu"`
	Memory   uint64 `json:"memory"`
	System   string `json:"system,omitempty"`
	CPUModel string `json:"cpuModel,omitempty"`
}

type ResourceView struct {
	Index          uint64     `json:"index"`
	Owner          string     `json:"owner"`
	PeerID         string     `json:"peerId"`
	Config         ConfigView `json:"config"`
	UnitPrice      string     `json:"unitPrice"`
	Duration       uint64     `json:"duration"`
	EndTick        uint64     `json:"endTick"`
	Status         string     `json:"status"`
	Collateral     string     `json:"collateral"`
	FaultCount     uint64     `json:"faultCount"`
	RegisteredAt   uint64     `json:"registeredAt"`
	RegisteredTime uint64     `json:"registeredTime"`
}

func configView(cfg registry.Config) ConfigView {
	return ConfigView{CPU: cfg.CPU, Memory: cfg.Memory, System: cfg.System, CPUModel: cfg.CPUModel}
}

func resourceView(res *registry.Resource) ResourceView {
	return ResourceView{
		Index:          res.Index,
		Owner:          res.Owner.Hex(),
		PeerID:         res.PeerID,
		Config:         configView(res.Config),
		UnitPrice:      amountString(res.Rental.UnitPrice),
		Duration:       res.Rental.Duration,
		EndTick:        res.Rental.EndTick,
		Status:         res.Status.String(),
		Collateral:     amountString(res.Collateral),
		FaultCount:     res.FaultCount,
		RegisteredAt:   res.RegisteredAt,
		RegisteredTime: res.RegisteredTime,
	}
}

type OrderView struct {
	Index          uint64 `json:"index"`
	Tenant         string `json:"tenant"`
	ResourceIndex  uint64 `json:"resourceIndex"`
	CreatedAt      uint64 `json:"createdAt"`
	RentDuration   uint64 `json:"rentDuration"`
	Time           uint64 `json:"time"`
	Status         string `json:"status"`
	Renewal        bool   `json:"renewal"`
	AgreementIndex uint64 `json:"agreementIndex,omitempty"`
	PubKey         string `json:"pubKey,omitempty"`
}

func orderView(order *rental.Order) OrderView {
	return OrderView{
		Index:          order.Index,
		Tenant:         order.Tenant.Hex(),
		ResourceIndex:  order.ResourceIndex,
		CreatedAt:      order.CreatedAt,
		RentDuration:   order.RentDuration,
		Time:           order.Time,
		Status:         order.Status.String(),
		Renewal:        order.Renewal,
		AgreementIndex: order.AgreementIndex,
		PubKey:         encodeHex(order.PubKey),
	}
}

type AgreementView struct {
	Index         uint64     `json:"index"`
	Provider      string     `json:"provider"`
	Tenant        string     `json:"tenant"`
	ResourceIndex uint64     `json:"resourceIndex"`
	PeerID        string     `json:"peerId"`
	Config        ConfigView `json:"config"`
	UnitPrice     string     `json:"unitPrice"`
	Start         uint64     `json:"start"`
	End           uint64     `json:"end"`
	Checkpoint    uint64     `json:"checkpoint"`
	Status        string     `json:"status"`
	RentTotal     string     `json:"rentTotal"`
	RentWithdrawn string     `json:"rentWithdrawn"`
	ClientFee     string     `json:"clientFee"`
	PubKey        string     `json:"pubKey,omitempty"`
}

func agreementView(a *rental.Agreement) AgreementView {
	return AgreementView{
		Index:         a.Index,
		Provider:      a.Provider.Hex(),
		Tenant:        a.Tenant.Hex(),
		ResourceIndex: a.ResourceIndex,
		PeerID:        a.Snapshot.PeerID,
		Config:        configView(a.Snapshot.Config),
		UnitPrice:     amountString(a.Snapshot.UnitPrice),
		Start:         a.Start,
		End:           a.End,
		Checkpoint:    a.Checkpoint,
		Status:        a.Status.String(),
		RentTotal:     amountString(a.RentTotal),
		RentWithdrawn: amountString(a.RentWithdrawn),
		ClientFee:     amountString(a.ClientFee),
		PubKey:        encodeHex(a.PubKey),
	}
}

type TaskView struct {
	ID          uint64 `json:"id"`
	Variant     string `json:"variant"`
	Payout      string `json:"payout"`
	Length      uint64 `json:"length"`
	TotalWeight string `json:"totalWeight"`
	EnqueuedAt  uint64 `json:"enqueuedAt"`
	Credited    string `json:"credited"`
	ShareCount  uint64 `json:"shareCount"`
	Part        uint64 `json:"part"`
	Parts       uint64 `json:"parts"`
}

func taskView(task *rewards.Task) TaskView {
	return TaskView{
		ID:          task.ID,
		Variant:     task.Variant.String(),
		Payout:      amountString(task.Payout),
		Length:      task.Length,
		TotalWeight: amountString(task.TotalWeight),
		EnqueuedAt:  task.EnqueuedAt,
		Credited:    amountString(task.Credited),
		ShareCount:  task.ShareCount,
		Part:        task.Part,
		Parts:       task.Parts,
	}
}

type QueueView struct {
	Tasks     []uint64 `json:"tasks"`
	TaskIndex uint64   `json:"taskIndex"`
	ItemIndex uint64   `json:"itemIndex"`
}

type PayoutView struct {
	Variant string `json:"variant"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Error   string `json:"error,omitempty"`
}

func payoutViews(outcomes []rewards.PayoutOutcome) []PayoutView {
	out := make([]PayoutView, 0, len(outcomes))
	for _, o := range outcomes {
		view := PayoutView{Variant: o.Variant.String(), Account: o.Account.Hex(), Amount: amountString(o.Amount)}
		if o.Err != nil {
			view.Error = o.Err.Error()
		}
		out = append(out, view)
	}
	return out
}

func encodeHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}
