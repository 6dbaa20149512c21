package rpc

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"gridmarket/native/rewards"
)

func (s *Server) mountQueries(r chi.Router) {
	r.Get("/tick", s.handleTick)
	r.Get("/paused", s.handlePaused)
	r.Get("/supply", s.handleSupply)
	r.Get("/accounts/{address}/balance", s.handleBalance)
	r.Get("/accounts/{address}/stake", s.handleStake)
	r.Get("/accounts/{address}/resources", s.handleOwnerResources)
	r.Get("/accounts/{address}/points", s.handleProviderPoints)
	r.Get("/accounts/{address}/agreements", s.handleAccountAgreements)
	r.Get("/accounts/{address}/income", s.handleIncome)
	r.Get("/resources/online", s.handleOnlineResources)
	r.Get("/resources/totals", s.handleTotals)
	r.Get("/resources/{index}", s.handleResource)
	r.Get("/orders/{index}", s.handleOrder)
	r.Get("/agreements/{index}", s.handleAgreement)
	r.Get("/agreements/{index}/earned", s.handleEarnedRent)
	r.Get("/rewards/queue", s.handleRewardQueue)
	r.Get("/rewards/tasks/{id}", s.handleRewardTask)
	r.Get("/events", s.handleEvents)
}

func pathAddress(r *http.Request) (common.Address, error) {
	return parseAddress("address", chi.URLParam(r, "address"))
}

func pathIndex(r *http.Request, key string) (uint64, error) {
	raw := chi.URLParam(r, key)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s: invalid index %q", key, raw)
	}
	return value, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, badRequest("limit: invalid value %q", raw)
	}
	return limit, nil
}

func (s *Server) handleTick(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"tick": s.engine.CurrentTick()})
}

func (s *Server) handlePaused(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.PausedModules())
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := s.engine.TotalSupply()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"totalSupply": amountString(supply)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.engine.Balance(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": addr.Hex(), "balance": amountString(balance)})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.stakeOf(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleOwnerResources(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	indexes, err := s.engine.OwnerResources(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ResourceView, 0, len(indexes))
	for _, index := range indexes {
		res, err := s.engine.Resource(index)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, resourceView(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProviderPoints(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := s.engine.ProviderPoints(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"points":    points.Points,
		"cpu":       points.CPU,
		"memory":    points.Memory,
		"resources": points.Resources,
	})
}

// handleAccountAgreements lists agreements by role; role defaults to tenant.
func (s *Server) handleAccountAgreements(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var indexes []uint64
	switch role := strings.ToLower(r.URL.Query().Get("role")); role {
	case "", "tenant":
		indexes, err = s.engine.TenantAgreements(addr)
	case "provider":
		indexes, err = s.engine.ProviderAgreements(addr)
	default:
		err = badRequest("role: unknown value %q", role)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]AgreementView, 0, len(indexes))
	for _, index := range indexes {
		agreement, err := s.engine.Agreement(index)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, agreementView(agreement))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIncome(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	income, err := s.engine.Income(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make(map[string]string, len(income))
	for _, variant := range rewards.Variants {
		out[variant.String()] = amountString(income[variant])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOnlineResources(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resources, err := s.engine.OnlineResources(limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ResourceView, 0, len(resources))
	for _, res := range resources {
		out = append(out, resourceView(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.engine.Totals()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"points":    totals.Points,
		"cpu":       totals.CPU,
		"memory":    totals.Memory,
		"resources": totals.Resources,
	})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Resource(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resourceView(res))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.engine.Order(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

func (s *Server) handleAgreement(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agreement, err := s.engine.Agreement(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agreementView(agreement))
}

func (s *Server) handleEarnedRent(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	earned, err := s.engine.EarnedRent(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agreementIndex": index, "earned": amountString(earned)})
}

func (s *Server) handleRewardQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.engine.RewardQueue()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tasks := queue.Tasks
	if tasks == nil {
		tasks = []uint64{}
	}
	writeJSON(w, http.StatusOK, QueueView{Tasks: tasks, TaskIndex: queue.TaskIndex, ItemIndex: queue.ItemIndex})
}

func (s *Server) handleRewardTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathIndex(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.engine.RewardTask(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskView(task))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{Kind: "state", Message: "event journal disabled"}})
		return
	}
	limit, err := queryLimit(r, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.journal.Recent(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
