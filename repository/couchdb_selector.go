package repository

import "github.com/tradewell/go-exchange-vault/types"

const (
	// primary credential store; one document per (client, exchange)
	ExchangeCredentials = "exchange_credentials"
	// legacy connector-embedded credentials
	Connectors = "connectors"
	// legacy per-wallet trading keys
	TradingKeys = "trading_keys"
	// wallet-to-bot assignments (referencing records, no secret material)
	BotWallets = "bot_wallets"
)

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the database selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	if len(c.dbs) == 0 {
		return nil, types.ErrNotFound
	}
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}
