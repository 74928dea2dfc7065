package quotes

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// OnchainOptions parameterise the on-chain price feed gateway.
type OnchainOptions struct {
	RPCURL  string
	Feeds   map[string]string // instrument code -> aggregator contract address
	Timeout time.Duration
}

// Onchain reads Chainlink-style aggregator feeds for tokenised instruments.
// Codes without a configured feed fall through to the next gateway.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds an on-chain quote gateway.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{opts: opts, logger: logger.With().Str("component", "onchain_gateway").Logger()}
}

// Supports reports whether a feed is configured for the code.
func (o *Onchain) Supports(code string) bool {
	_, ok := o.opts.Feeds[code]
	return ok
}

// GetPrice reads latestRoundData from the code's aggregator feed.
func (o *Onchain) GetPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	feed, ok := o.opts.Feeds[code]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no feed for %s", ErrNotFound, code)
	}
	if o.opts.RPCURL == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: quotes.rpc_url not configured", ErrUnavailable)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: dial rpc: %v", ErrUnavailable, err)
	}

	addr := common.HexToAddress(feed)

	answer, err := o.callBigInt(ctx, client, addr, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}

	decimalsPayload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return decimal.Decimal{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: decimalsPayload}, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decimals call: %v", ErrUnavailable, err)
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode decimals: %v", ErrUnavailable, err)
	}
	feedDecimals, ok := outputs[0].(uint8)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: unexpected decimals output", ErrUnavailable)
	}

	price := decimal.NewFromBigInt(answer, -int32(feedDecimals))
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: feed %s returned %s", ErrUnavailable, code, price.String())
	}

	o.logger.Debug().Str("code", code).Str("price", price.String()).Msg("onchain quote fetched")
	return price, nil
}

func (o *Onchain) callBigInt(ctx context.Context, client *ethclient.Client, addr common.Address, method string) (*big.Int, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s call: %v", ErrUnavailable, method, err)
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, method, err)
	}
	if len(outputs) < 2 {
		return nil, fmt.Errorf("%w: unexpected %s response", ErrUnavailable, method)
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: failed to decode %s answer", ErrUnavailable, method)
	}
	return answer, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Gateway = (*Onchain)(nil)
