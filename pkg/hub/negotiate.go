package hub

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// UserIDHeader optionally names the user a connection is issued for.
const UserIDHeader = "X-User-Id"

// ConnectionInfo is what a client needs to join the hub.
type ConnectionInfo struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

// Negotiator issues connection credentials for one hub.
type Negotiator struct {
	conn    ConnectionString
	hubName string
	tokens  *TokenIssuer
}

// NewNegotiator creates a Negotiator for hubName.
func NewNegotiator(conn ConnectionString, hubName string, tokens *TokenIssuer) *Negotiator {
	return &Negotiator{conn: conn, hubName: hubName, tokens: tokens}
}

// Negotiate returns fresh connection info. The request is only inspected for
// the optional user ID header.
func (n *Negotiator) Negotiate(r *http.Request) (*ConnectionInfo, error) {
	clientURL := n.conn.ClientURL(n.hubName)
	token, err := n.tokens.Issue(clientURL, r.Header.Get(UserIDHeader))
	if err != nil {
		return nil, err
	}
	return &ConnectionInfo{URL: clientURL, AccessToken: token}, nil
}

// NegotiateHandler serves connection info as JSON. It is anonymous.
func NegotiateHandler(n *Negotiator, logger zerolog.Logger) http.HandlerFunc {
	log := logger.With().Str("component", "Negotiator").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := n.Negotiate(r)
		if err != nil {
			log.Error().Err(err).Msg("Failed to issue connection info")
			http.Error(w, "failed to negotiate connection", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Warn().Err(err).Msg("Failed to write negotiate response")
		}
	}
}
