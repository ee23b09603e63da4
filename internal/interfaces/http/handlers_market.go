package http

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/market"
	"github.com/defiinsight/insight/internal/providers/feargreed"
)

func (s *Server) handleMarketSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.market.Summary(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Market summary unavailable")
		writeError(w, r, http.StatusBadGateway, codeUpstream, "market data unavailable")
		return
	}
	writeSuccess(w, r, http.StatusOK, summary)
}

type fearGreedResponse struct {
	*market.FearGreedStatus
	Trend *feargreed.Trend `json:"trend,omitempty"`
}

func (s *Server) handleFearGreed(w http.ResponseWriter, r *http.Request) {
	status, err := s.market.FearGreed(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Fear & greed unavailable")
		writeError(w, r, http.StatusBadGateway, codeUpstream, "fear & greed index unavailable")
		return
	}

	resp := fearGreedResponse{FearGreedStatus: status}
	if trend, err := s.market.FearGreedTrend(r.Context()); err == nil {
		resp.Trend = trend
	}
	writeSuccess(w, r, http.StatusOK, resp)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	coins, err := s.market.Trending(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Trending unavailable")
		writeError(w, r, http.StatusBadGateway, codeUpstream, "trending data unavailable")
		return
	}
	writeSuccess(w, r, http.StatusOK, coins)
}

func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	timeframe := strings.TrimSpace(r.URL.Query().Get("timeframe"))
	if timeframe == "" {
		timeframe = "24h"
	}
	limit := queryInt(r, "limit", 10)

	movers, err := s.market.TopMovers(r.Context(), timeframe, limit)
	if err != nil {
		log.Warn().Err(err).Str("timeframe", timeframe).Msg("Movers unavailable")
		writeError(w, r, http.StatusBadGateway, codeUpstream, "movers data unavailable")
		return
	}
	writeSuccess(w, r, http.StatusOK, movers)
}

func (s *Server) handleDeFi(w http.ResponseWriter, r *http.Request) {
	overview, err := s.market.DeFiOverview(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("DeFi overview unavailable")
		writeError(w, r, http.StatusBadGateway, codeUpstream, "defi data unavailable")
		return
	}
	writeSuccess(w, r, http.StatusOK, overview)
}
