package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"gridmarket/core/market"
	"gridmarket/native/registry"
	"gridmarket/native/rewards"
	mw "gridmarket/rpc/middleware"
)

const maxBodyBytes = 4 << 20

type commandHandler func(s *Server, caller common.Address, body []byte) (interface{}, error)

type adminHandler func(s *Server, body []byte) (interface{}, error)

var commandHandlers = map[string]commandHandler{
	market.CmdBond:                   handleBond,
	market.CmdWithdraw:               handleWithdraw,
	market.CmdRegisterResource:       handleRegisterResource,
	market.CmdModifyResourcePrice:    handleModifyResourcePrice,
	market.CmdAddResourceDuration:    handleAddResourceDuration,
	market.CmdOfflineResource:        handleOfflineResource,
	market.CmdCreateOrder:            handleCreateOrder,
	market.CmdOrderExec:              handleOrderExec,
	market.CmdHeartbeat:              handleHeartbeat,
	market.CmdCancelOrder:            handleCancelOrder,
	market.CmdRenewAgreement:         handleRenewAgreement,
	market.CmdWithdrawRentalAmount:   handleWithdrawRentalAmount,
	market.CmdWithdrawFaultExecution: handleWithdrawFaultExecution,
	market.CmdWithdrawIncome:         handleWithdrawIncome,
}

var adminHandlers = map[string]adminHandler{
	market.CmdPayoutQueue:   handlePayoutQueue,
	market.CmdEnqueueReward: handleEnqueueReward,
	market.CmdPauseModule:   handlePauseModule,
	market.CmdResumeModule:  handleResumeModule,
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	handler, ok := commandHandlers[name]
	if !ok {
		s.writeError(w, r, badRequest("unknown command %q", name))
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := handler(s, caller, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"command": name, "result": result})
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	handler, ok := adminHandlers[name]
	if !ok {
		s.writeError(w, r, badRequest("unknown admin command %q", name))
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := handler(s, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("rpc: admin command", "command", name, "subject", mw.Subject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{"command": name, "result": result})
}

func callerAddress(r *http.Request) (common.Address, error) {
	subject := strings.TrimSpace(mw.Subject(r.Context()))
	if subject == "" {
		return common.Address{}, badRequest("caller required")
	}
	if !common.IsHexAddress(subject) {
		return common.Address{}, badRequest("caller %q is not an address", subject)
	}
	return common.HexToAddress(subject), nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, badRequest("body too large")
	}
	return body, nil
}

// decode parses body into dst, rejecting unknown fields. An empty body
// leaves dst untouched.
func decode(body []byte, dst interface{}) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func parseAmount(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, badRequest("%s required", field)
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, badRequest("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequest("%s: invalid address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseHexBytes(field, value string) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if value == "" {
		return nil, nil
	}
	out, err := hex.DecodeString(value)
	if err != nil {
		return nil, badRequest("%s: invalid hex", field)
	}
	return out, nil
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type resourceRequest struct {
	Index uint64 `json:"index"`
}

type orderRequest struct {
	OrderIndex uint64 `json:"orderIndex"`
}

type agreementRequest struct {
	AgreementIndex uint64 `json:"agreementIndex"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func handleBond(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req amountRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Bond(caller, amount); err != nil {
		return nil, err
	}
	return s.stakeOf(caller)
}

func handleWithdraw(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req amountRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Withdraw(caller, amount); err != nil {
		return nil, err
	}
	return s.stakeOf(caller)
}

func (s *Server) stakeOf(account common.Address) (StakeView, error) {
	acct, exists, err := s.engine.StakeAccount(account)
	if err != nil {
		return StakeView{}, err
	}
	return stakeView(account.Hex(), acct, exists), nil
}

type registerRequest struct {
	PeerID    string `json:"peerId"`
	CPU       uint64 `json:"cpu"`
	Memory    uint64 `json:"memory"`
	System    string `json:"system"`
	CPUModel  string `json:"cpuModel"`
	UnitPrice string `json:"unitPrice"`
	Duration  uint64 `json:"duration"`
	HintIndex uint64 `json:"hintIndex"`
}

func handleRegisterResource(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req registerRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	price, err := parseAmount("unitPrice", req.UnitPrice)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.RegisterResource(caller, registry.RegisterRequest{
		PeerID:    req.PeerID,
		Config:    registry.Config{CPU: req.CPU, Memory: req.Memory, System: req.System, CPUModel: req.CPUModel},
		UnitPrice: price,
		Duration:  req.Duration,
		HintIndex: req.HintIndex,
	})
	if err != nil {
		return nil, err
	}
	return resourceView(res), nil
}

func handleModifyResourcePrice(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req struct {
		Index     uint64 `json:"index"`
		UnitPrice string `json:"unitPrice"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	price, err := parseAmount("unitPrice", req.UnitPrice)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.ModifyResourcePrice(caller, req.Index, price)
	if err != nil {
		return nil, err
	}
	return resourceView(res), nil
}

func handleAddResourceDuration(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req struct {
		Index    uint64 `json:"index"`
		Duration uint64 `json:"duration"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	res, err := s.engine.AddResourceDuration(caller, req.Index, req.Duration)
	if err != nil {
		return nil, err
	}
	return resourceView(res), nil
}

func handleOfflineResource(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req resourceRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	released, err := s.engine.OfflineResource(caller, req.Index)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"index": req.Index, "released": amountString(released)}, nil
}

func handleCreateOrder(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req struct {
		ResourceIndex uint64 `json:"resourceIndex"`
		Duration      uint64 `json:"duration"`
		PubKey        string `json:"pubKey"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	pubKey, err := parseHexBytes("pubKey", req.PubKey)
	if err != nil {
		return nil, err
	}
	order, err := s.engine.CreateOrder(caller, req.ResourceIndex, req.Duration, pubKey)
	if err != nil {
		return nil, err
	}
	return orderView(order), nil
}

func handleOrderExec(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req orderRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	agreement, err := s.engine.ExecOrder(caller, req.OrderIndex)
	if err != nil {
		return nil, err
	}
	return agreementView(agreement), nil
}

func handleHeartbeat(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req agreementRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	agreement, err := s.engine.Heartbeat(caller, req.AgreementIndex)
	if err != nil {
		return nil, err
	}
	return agreementView(agreement), nil
}

func handleCancelOrder(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req orderRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	order, err := s.engine.CancelOrder(caller, req.OrderIndex)
	if err != nil {
		return nil, err
	}
	return orderView(order), nil
}

func handleRenewAgreement(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req struct {
		AgreementIndex uint64 `json:"agreementIndex"`
		Duration       uint64 `json:"duration"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	order, err := s.engine.RenewAgreement(caller, req.AgreementIndex, req.Duration)
	if err != nil {
		return nil, err
	}
	return orderView(order), nil
}

func handleWithdrawRentalAmount(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req agreementRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	amount, err := s.engine.WithdrawRentalAmount(caller, req.AgreementIndex)
	if err != nil {
		return nil, err
	}
	return amountResult{Amount: amountString(amount)}, nil
}

func handleWithdrawFaultExecution(s *Server, caller common.Address, body []byte) (interface{}, error) {
	var req agreementRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	amount, err := s.engine.WithdrawFaultExecution(caller, req.AgreementIndex)
	if err != nil {
		return nil, err
	}
	return amountResult{Amount: amountString(amount)}, nil
}

func handleWithdrawIncome(s *Server, caller common.Address, body []byte) (interface{}, error) {
	if err := decode(body, &struct{}{}); err != nil {
		return nil, err
	}
	amount, err := s.engine.WithdrawIncome(caller)
	if err != nil {
		return nil, err
	}
	return amountResult{Amount: amountString(amount)}, nil
}

func handlePayoutQueue(s *Server, body []byte) (interface{}, error) {
	if err := decode(body, &struct{}{}); err != nil {
		return nil, err
	}
	outcomes, err := s.engine.PayoutQueue()
	if err != nil {
		return nil, err
	}
	return payoutViews(outcomes), nil
}

type entryRequest struct {
	Account string `json:"account"`
	Weight  uint64 `json:"weight"`
}

func handleEnqueueReward(s *Server, body []byte) (interface{}, error) {
	var req struct {
		Variant string         `json:"variant"`
		Payout  string         `json:"payout"`
		Dataset []entryRequest `json:"dataset"`
	}
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	variant, err := rewards.ParseVariant(req.Variant)
	if err != nil {
		return nil, err
	}
	payout, err := parseAmount("payout", req.Payout)
	if err != nil {
		return nil, err
	}
	dataset := make([]rewards.Entry, 0, len(req.Dataset))
	for i, entry := range req.Dataset {
		account, err := parseAddress(fmt.Sprintf("dataset[%d].account", i), entry.Account)
		if err != nil {
			return nil, err
		}
		dataset = append(dataset, rewards.Entry{Account: account, Weight: entry.Weight})
	}
	task, err := s.engine.EnqueueReward(variant, payout, dataset)
	if err != nil {
		return nil, err
	}
	return taskView(task), nil
}

type moduleRequest struct {
	Module string `json:"module"`
}

func handlePauseModule(s *Server, body []byte) (interface{}, error) {
	var req moduleRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if err := s.engine.PauseModule(req.Module); err != nil {
		return nil, err
	}
	return s.engine.PausedModules(), nil
}

func handleResumeModule(s *Server, body []byte) (interface{}, error) {
	var req moduleRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if err := s.engine.ResumeModule(req.Module); err != nil {
		return nil, err
	}
	return s.engine.PausedModules(), nil
}
