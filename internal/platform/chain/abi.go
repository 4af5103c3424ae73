// Package chain implements domain.Ledger, either against the deployed
// energy and carbon-credit contracts over JSON-RPC or as an in-process
// simulation.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const tokenABIJSON = `[
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"buyTokens","stateMutability":"payable","inputs":[],"outputs":[]},
 {"type":"function","name":"tokenPrice","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint256"}]}
]`

const sellOrderTuple = `{"name":"seller","type":"address"},
   {"name":"amount","type":"uint256"},
   {"name":"remaining","type":"uint256"},
   {"name":"pricePerUnit","type":"uint256"},
   {"name":"geohash","type":"string"},
   {"name":"active","type":"bool"}`

const tradingABIJSON = `[
 {"type":"function","name":"CreateSellOrder","stateMutability":"nonpayable",
  "inputs":[{"name":"amount","type":"uint256"},{"name":"pricePerUnit","type":"uint256"},{"name":"geohash","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"cancelSellOrder","stateMutability":"nonpayable",
  "inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"executeTrade","stateMutability":"payable",
  "inputs":[{"name":"orderId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"fee","type":"uint256"}],
  "outputs":[]},
 {"type":"function","name":"sellOrders","stateMutability":"view",
  "inputs":[{"name":"","type":"uint256"}],
  "outputs":[` + sellOrderTuple + `]},
 {"type":"function","name":"getListOfSellOrders","stateMutability":"view","inputs":[],
  "outputs":[{"name":"orders","type":"tuple[]","components":[` + sellOrderTuple + `]},
             {"name":"ids","type":"uint256[]"}]},
 {"type":"event","name":"SellOrderCreated","anonymous":false,
  "inputs":[{"name":"orderId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},
            {"name":"amount","type":"uint256","indexed":false},{"name":"pricePerUnit","type":"uint256","indexed":false}]}
]`

const auctionTuple = `{"name":"seller","type":"address"},
   {"name":"tokenAmount","type":"uint256"},
   {"name":"basePrice","type":"uint256"},
   {"name":"startTime","type":"uint256"},
   {"name":"endTime","type":"uint256"},
   {"name":"highestBidder","type":"address"},
   {"name":"highestBid","type":"uint256"},
   {"name":"isFinalized","type":"bool"}`

const auctionCommonJSON = `
 {"type":"function","name":"placeBid","stateMutability":"payable",
  "inputs":[{"name":"auctionId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"finalizeAuction","stateMutability":"nonpayable",
  "inputs":[{"name":"auctionId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"auctions","stateMutability":"view",
  "inputs":[{"name":"","type":"uint256"}],
  "outputs":[` + auctionTuple + `]},
 {"type":"function","name":"getActiveAuctions","stateMutability":"view","inputs":[],
  "outputs":[{"name":"ids","type":"uint256[]"},
             {"name":"data","type":"tuple[]","components":[` + auctionTuple + `]}]},
 {"type":"event","name":"AuctionCreated","anonymous":false,
  "inputs":[{"name":"auctionId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},
            {"name":"tokenAmount","type":"uint256","indexed":false},{"name":"endTime","type":"uint256","indexed":false}]}`

const p2pAuctionABIJSON = `[
 {"type":"function","name":"createAuction","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenAmount","type":"uint256"},{"name":"basePrice","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"dayStart","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"setDayStart","stateMutability":"nonpayable",
  "inputs":[{"name":"timestamp","type":"uint256"}],"outputs":[]},` + auctionCommonJSON + `
]`

const carbonMarketABIJSON = `[
 {"type":"function","name":"createAuction","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenAmount","type":"uint256"},{"name":"basePrice","type":"uint256"},{"name":"duration","type":"uint256"}],
  "outputs":[]},` + auctionCommonJSON + `
]`

// Contract ABIs. The energy and carbon tokens share TokenABI.
var (
	TokenABI        = mustParseABI("token", tokenABIJSON)
	TradingABI      = mustParseABI("trading", tradingABIJSON)
	P2PAuctionABI   = mustParseABI("p2p auction", p2pAuctionABIJSON)
	CarbonMarketABI = mustParseABI("carbon market", carbonMarketABIJSON)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse %s abi: %v", name, err))
	}
	return parsed
}
