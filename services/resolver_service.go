package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/metrics"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

// store priority for drift tie-breaks: primary first, then legacy stores
var storePriority = map[string]int{
	repository.ExchangeCredentials: 0,
	repository.Connectors:          1,
	repository.TradingKeys:         2,
}

// ResolverService locates the single authoritative credential for a
// (client, exchange) pair across the primary store and the legacy stores,
// and reports drift and inconsistency instead of silently discarding it.
// It performs no writes except through Reconcile.
type ResolverService struct {
	credRepo       repository.Repository
	connectorRepo  repository.Repository
	tradingKeyRepo repository.Repository
	walletRepo     repository.Repository
}

func NewResolverService(dbSelector repository.DBSelector) *ResolverService {
	credRepo, err := dbSelector.ChooseDB(repository.ExchangeCredentials)
	if err != nil {
		panic(err)
	}
	connectorRepo, err := dbSelector.ChooseDB(repository.Connectors)
	if err != nil {
		panic(err)
	}
	tradingKeyRepo, err := dbSelector.ChooseDB(repository.TradingKeys)
	if err != nil {
		panic(err)
	}
	walletRepo, err := dbSelector.ChooseDB(repository.BotWallets)
	if err != nil {
		panic(err)
	}
	return &ResolverService{
		credRepo:       credRepo,
		connectorRepo:  connectorRepo,
		tradingKeyRepo: tradingKeyRepo,
		walletRepo:     walletRepo,
	}
}

// Resolve gathers candidates from every store in priority order and
// classifies the outcome. The chosen candidate is always the most
// recently updated; equal timestamps fall back to store priority so the
// selection stays deterministic.
func (rs *ResolverService) Resolve(clientID string, exchange string) (*types.Resolution, error) {
	exchange = util.NormalizeExchange(exchange)

	candidates := []*types.ExchangeCredential{}

	primary, err := rs.primaryLookup(clientID, exchange)
	if err != nil && err != types.ErrNotFound {
		return nil, err
	}
	if primary != nil {
		candidates = append(candidates, primary)
	}

	for _, repo := range []repository.Repository{rs.connectorRepo, rs.tradingKeyRepo} {
		found, fErr := rs.findCandidates(repo, clientID, exchange)
		if fErr != nil {
			return nil, fErr
		}
		candidates = append(candidates, found...)
	}

	hasWallet, wErr := rs.hasWallet(clientID, exchange)
	if wErr != nil {
		return nil, wErr
	}

	if len(candidates) == 0 {
		if hasWallet {
			metrics.InconsistentDetectedMetricsCount.Inc()
			return &types.Resolution{
				State:  types.ResolutionInconsistent,
				Reason: fmt.Sprintf("wallet assigned to a bot for %s/%s but no credential in any store", clientID, exchange),
			}, nil
		}
		return &types.Resolution{State: types.ResolutionMissing}, nil
	}

	sortCandidates(candidates)
	chosen := candidates[0]
	others := candidates[1:]

	if !hasWallet {
		metrics.InconsistentDetectedMetricsCount.Inc()
		return &types.Resolution{
			State:  types.ResolutionInconsistent,
			Chosen: chosen,
			Others: others,
			Reason: fmt.Sprintf("orphaned credential: no bot wallet references %s/%s", clientID, exchange),
		}, nil
	}

	if len(others) > 0 {
		metrics.DriftDetectedMetricsCount.Inc()
		level.Warn(global.Logger).Log(
			"msg", "credential drift detected",
			"clientId", clientID,
			"exchange", exchange,
			"candidates", len(candidates),
			"chosenStore", chosen.Store,
			"chosenFingerprint", credentialFingerprint(chosen),
		)
		return &types.Resolution{
			State:  types.ResolutionDrift,
			Chosen: chosen,
			Others: others,
		}, nil
	}

	return &types.Resolution{State: types.ResolutionResolved, Chosen: chosen}, nil
}

// Reconcile heals Drift/Inconsistent states by copying the winning
// candidate into the primary store. The primary document id is fixed to
// clientID:exchange and writes carry the current revision, so repeated or
// concurrent reconciliations converge to a single record and a re-run
// after healing performs no write at all.
func (rs *ResolverService) Reconcile(clientID string, exchange string) (*types.Resolution, error) {
	exchange = util.NormalizeExchange(exchange)

	res, err := rs.Resolve(clientID, exchange)
	if err != nil {
		return nil, err
	}
	if res.Chosen == nil {
		// nothing to copy; missing credentials need operator input
		return res, nil
	}
	if res.Chosen.Store == repository.ExchangeCredentials {
		// primary already authoritative
		return res, nil
	}

	healed := *res.Chosen
	healed.UnderscoreID = types.CredentialDocID(clientID, exchange)
	healed.UnderscoreRev = ""
	healed.ClientID = clientID
	healed.Exchange = exchange
	healed.Provenance = "reconciler"
	healed.Updated = time.Now().UTC().UnixMilli()

	if sErr := rs.savePrimary(&healed); sErr != nil {
		return nil, sErr
	}
	global.Logger.Log("msg", "credential reconciled into primary store",
		"clientId", clientID, "exchange", exchange, "sourceStore", res.Chosen.Store)

	return rs.Resolve(clientID, exchange)
}

// savePrimary upserts into the primary store, retrying once on a revision
// conflict (a concurrent reconcile won the race; carry its revision)
func (rs *ResolverService) savePrimary(cred *types.ExchangeCredential) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	existing, err := rs.primaryLookup(cred.ClientID, cred.Exchange)
	if err != nil && err != types.ErrNotFound {
		return err
	}
	if existing != nil {
		cred.UnderscoreRev = existing.UnderscoreRev
		if existing.Created > 0 {
			cred.Created = existing.Created
		}
	}

	sErr := rs.credRepo.Save(ctx, cred.UnderscoreID, cred)
	if sErr == types.ErrConflict {
		current, gErr := rs.primaryLookup(cred.ClientID, cred.Exchange)
		if gErr != nil {
			return gErr
		}
		cred.UnderscoreRev = current.UnderscoreRev
		return rs.credRepo.Save(ctx, cred.UnderscoreID, cred)
	}
	return sErr
}

func (rs *ResolverService) primaryLookup(clientID string, exchange string) (*types.ExchangeCredential, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := rs.credRepo.GetByID(ctx, types.CredentialDocID(clientID, exchange))
	if err != nil {
		return nil, err
	}
	var cred types.ExchangeCredential
	if mErr := repository.MapToObject(resp, &cred); mErr != nil {
		return nil, mErr
	}
	cred.Store = repository.ExchangeCredentials
	return &cred, nil
}

// findCandidates queries a legacy store for all records matching the
// (client, exchange) pair, newest first
func (rs *ResolverService) findCandidates(repo repository.Repository, clientID string, exchange string) ([]*types.ExchangeCredential, error) {
	var couchdbError types.CouchDBError

	cl := repo.GetClient().(*resty.Client)
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"clientId": map[string]interface{}{"$eq": clientID},
			"exchange": map[string]interface{}{"$eq": exchange},
		},
		"use_index": []string{"client-exchange-updated-index", "client-exchange-updated-index"},
		"sort":      []map[string]string{{"clientId": "desc"}, {"exchange": "desc"}, {"updated": "desc"}},
		"limit":     25,
	}
	response, err := cl.R().SetError(&couchdbError).SetBody(query).Post(fmt.Sprintf("%s/_find", repo.GetDBName()))
	if err != nil {
		return nil, err
	}
	if response.IsError() {
		return nil, fmt.Errorf("error querying %s for credential candidates: %s", repo.GetDBName(), couchdbError.Error)
	}

	var respObj map[string]interface{}
	if mErr := json.Unmarshal(response.Body(), &respObj); mErr != nil {
		return nil, mErr
	}

	candidates := []*types.ExchangeCredential{}
	if rows, ok := respObj["docs"]; ok {
		for _, row := range rows.([]interface{}) {
			data, mErr := json.Marshal(row)
			if mErr != nil {
				return nil, mErr
			}
			var cred types.ExchangeCredential
			if uErr := json.Unmarshal(data, &cred); uErr != nil {
				return nil, uErr
			}
			cred.Store = repo.GetDBName()
			candidates = append(candidates, &cred)
		}
	}
	return candidates, nil
}

func (rs *ResolverService) hasWallet(clientID string, exchange string) (bool, error) {
	var couchdbError types.CouchDBError

	cl := rs.walletRepo.GetClient().(*resty.Client)
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"clientId": map[string]interface{}{"$eq": clientID},
			"exchange": map[string]interface{}{"$eq": exchange},
		},
		"limit": 1,
	}
	response, err := cl.R().SetError(&couchdbError).SetBody(query).Post(fmt.Sprintf("%s/_find", rs.walletRepo.GetDBName()))
	if err != nil {
		return false, err
	}
	if response.IsError() {
		return false, fmt.Errorf("error querying %s for wallet assignment: %s", rs.walletRepo.GetDBName(), couchdbError.Error)
	}

	var respObj map[string]interface{}
	if mErr := json.Unmarshal(response.Body(), &respObj); mErr != nil {
		return false, mErr
	}
	if rows, ok := respObj["docs"]; ok {
		return len(rows.([]interface{})) > 0, nil
	}
	return false, nil
}

// ListWallets pages through the wallet assignments (drift scan input)
func (rs *ResolverService) ListWallets(limit int, skip int) ([]*types.BotWallet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	docs, err := rs.walletRepo.GetAll(ctx, limit, skip)
	if err != nil {
		return nil, err
	}
	wallets := []*types.BotWallet{}
	for _, doc := range docs {
		data, mErr := json.Marshal(doc)
		if mErr != nil {
			return nil, mErr
		}
		var wallet types.BotWallet
		if uErr := json.Unmarshal(data, &wallet); uErr != nil {
			return nil, uErr
		}
		wallets = append(wallets, &wallet)
	}
	return wallets, nil
}

func sortCandidates(candidates []*types.ExchangeCredential) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Updated != candidates[j].Updated {
			return candidates[i].Updated > candidates[j].Updated
		}
		return storePriority[candidates[i].Store] < storePriority[candidates[j].Store]
	})
}

// credentialFingerprint is a short non-secret identifier for log lines;
// it hashes only the public key and location fields
func credentialFingerprint(cred *types.ExchangeCredential) string {
	return fmt.Sprintf("%x", xxhash.Sum64String(cred.ClientID+"|"+cred.Exchange+"|"+cred.APIKey))
}
