package dpdebug

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gorilla/mux"
)

// maxUpdateSize bounds the body of a submitted update.
const maxUpdateSize = 1 << 20

type roundHandler struct {
	log *slog.Logger

	engine Engine
	store  dpstore.RoundStore
}

// RoundJSON is the JSON view of a round.
type RoundJSON struct {
	Number     uint64
	TermNumber uint64
	ID         string

	StartTime          time.Time
	ExtraBlockProducer string
	ExtraBlockTime     time.Time

	// Set once the extra block has been produced.
	SealedBy string `json:",omitempty"`

	Miners []MinerJSON
}

type MinerJSON struct {
	ID    string
	Order int

	ExpectedMiningTime time.Time
	ActualMiningTimes  []time.Time `json:",omitempty"`

	Phase string

	ProducedBlocks  uint64
	MissedTimeSlots uint64
}

func newRoundJSON(r dpround.Round) RoundJSON {
	out := RoundJSON{
		Number:     r.Number(),
		TermNumber: r.TermNumber(),
		ID:         r.ID(),

		StartTime:          r.StartTime(),
		ExtraBlockProducer: r.ExtraBlockProducer().ID,
		ExtraBlockTime:     r.ExtraBlockMiningTime(),
	}
	if by, _, ok := r.ExtraBlock(); ok {
		out.SealedBy = by
	}

	for _, s := range r.Slots() {
		out.Miners = append(out.Miners, MinerJSON{
			ID:    s.ID,
			Order: s.Order,

			ExpectedMiningTime: s.ExpectedMiningTime,
			ActualMiningTimes:  s.ActualMiningTimes,

			Phase: dpround.PhaseOf(s.Commitment).String(),

			ProducedBlocks:  s.ProducedBlocks,
			MissedTimeSlots: s.MissedTimeSlots,
		})
	}
	return out
}

func (h roundHandler) HandleCurrentRound(w http.ResponseWriter, req *http.Request) {
	h.writeJSON(w, "round", newRoundJSON(h.engine.CurrentRound()))
}

func (h roundHandler) HandleRound(w http.ResponseWriter, req *http.Request) {
	n, err := strconv.ParseUint(mux.Vars(req)["number"], 10, 64)
	if err != nil {
		http.Error(w, "invalid round number", http.StatusBadRequest)
		return
	}

	r, err := h.store.LoadRound(req.Context(), n)
	if err != nil {
		if errors.Is(err, dpstore.ErrRoundNotFound) {
			http.Error(w, "round not found", http.StatusNotFound)
			return
		}
		h.log.Warn("Failed to load round", "round", n, "err", err)
		http.Error(w, "failed to load round", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, "round_by_number", newRoundJSON(r))
}

func (h roundHandler) HandleSchedule(w http.ResponseWriter, req *http.Request) {
	minerID := mux.Vars(req)["miner"]

	cmd, err := h.engine.Command(minerID)
	if err != nil {
		var ue dpround.UnknownMinerError
		if errors.As(err, &ue) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, "schedule", struct {
		Behaviour    string
		ArrangedTime time.Time
		Wait         string
	}{
		Behaviour:    cmd.Behaviour.String(),
		ArrangedTime: cmd.ArrangedTime,
		Wait:         cmd.Wait.String(),
	})
}

func (h roundHandler) HandleLIB(w http.ResponseWriter, req *http.Request) {
	h.writeJSON(w, "lib", struct {
		RoundNumber uint64
		Offset      int
	}{
		RoundNumber: h.engine.CurrentRound().Number(),
		Offset:      h.engine.LIBOffset(),
	})
}

// HandleSubmitUpdate accepts an encoded signed update as the raw request body.
func (h roundHandler) HandleSubmitUpdate(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	b, err := io.ReadAll(io.LimitReader(req.Body, maxUpdateSize))
	if err != nil {
		h.log.Warn("Failed to read request body", "route", "updates", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	r, err := h.engine.ApplySignedUpdate(req.Context(), b)
	if err != nil {
		status := http.StatusBadRequest
		if dpround.IsRetryable(err) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	h.writeJSON(w, "updates", newRoundJSON(r))
}

func (h roundHandler) writeJSON(w http.ResponseWriter, route string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("Failed to encode response", "route", route, "err", err)
	}
}
