package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/olehkaliuzhnyi/wave-portal/internal/config"
	"github.com/olehkaliuzhnyi/wave-portal/internal/ledger"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testAccount  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

var testContract = common.HexToAddress(config.DefaultContractAddress)

type nodeWave struct {
	Waver     common.Address
	Timestamp *big.Int
	Message   string
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a callArgs) payload() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

// fakeNode serves the eth_ methods the client uses and runs the WavePortal
// contract in memory.
type fakeNode struct {
	abi     abi.ABI
	chainID *big.Int

	mu       sync.Mutex
	waves    []nodeWave
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	head     uint64
	now      int64
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(ledger.WavePortalABI))
	require.NoError(t, err)
	return &fakeNode{
		abi:      parsed,
		chainID:  big.NewInt(31337),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		head:     1,
		now:      1_700_000_000,
		waves: []nodeWave{
			{Waver: common.HexToAddress("0x1111111111111111111111111111111111111111"), Timestamp: big.NewInt(1_600_000_000), Message: "gm"},
			{Waver: common.HexToAddress("0x2222222222222222222222222222222222222222"), Timestamp: big.NewInt(1_650_000_000), Message: "wagmi"},
		},
	}
}

func (n *fakeNode) ChainId(ctx context.Context) (*hexutil.Big, error) {
	return (*hexutil.Big)(n.chainID), nil
}

func (n *fakeNode) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return hexutil.Uint64(n.head), nil
}

func (n *fakeNode) GasPrice(ctx context.Context) (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(1_000_000_000)), nil
}

func (n *fakeNode) GetTransactionCount(ctx context.Context, addr common.Address, block string) (hexutil.Uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return hexutil.Uint64(n.nonces[addr]), nil
}

func (n *fakeNode) EstimateGas(ctx context.Context, args callArgs, block *string) (hexutil.Uint64, error) {
	return 60_000, nil
}

func (n *fakeNode) Call(ctx context.Context, args callArgs, block *string) (hexutil.Bytes, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if args.To == nil || *args.To != testContract {
		return hexutil.Bytes{}, nil
	}
	data := args.payload()
	for name, m := range n.abi.Methods {
		if !bytes.HasPrefix(data, m.ID) {
			continue
		}
		switch name {
		case ledger.MethodGetTotalWaves:
			return m.Outputs.Pack(big.NewInt(int64(len(n.waves))))
		case ledger.MethodGetAllWaves:
			return m.Outputs.Pack(n.waves)
		}
	}
	return nil, errors.New("execution reverted")
}

func (n *fakeNode) SendRawTransaction(ctx context.Context, raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	method, err := n.abi.MethodById(tx.Data())
	if err != nil || method.Name != ledger.MethodWave {
		return common.Hash{}, errors.New("unexpected call")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return common.Hash{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.head++
	n.nonces[from] = tx.Nonce() + 1
	n.waves = append(n.waves, nodeWave{Waver: from, Timestamp: big.NewInt(n.now), Message: args[0].(string)})
	n.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(n.head),
		GasUsed:     50_000,
		Logs:        []*types.Log{},
	}
	return tx.Hash(), nil
}

func (n *fakeNode) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receipts[hash], nil
}

func (n *fakeNode) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.waves))
	for i, w := range n.waves {
		out[i] = w.Message
	}
	return out
}

func executeCLI(t *testing.T, node *fakeNode, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, node, "", stdin, args...)
}

func executeCLIWithMnemonic(t *testing.T, node *fakeNode, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, node, testMnemonic, stdin, args...)
}

// runCLI executes the root command against node. mnemonic enables the local key agent.
func runCLI(t *testing.T, node *fakeNode, mnemonic, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("WAVE_AGENT_URL", "")
	t.Setenv("WAVE_MNEMONIC", mnemonic)

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", node))
	t.Cleanup(server.Stop)

	root := newRootCmd(func(ctx context.Context, url string) (*rpc.Client, error) {
		return rpc.DialInProc(server), nil
	})
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--read-rps", "0"}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCountPrintsContractCounter(t *testing.T) {
	stdout, _, err := executeCLI(t, newFakeNode(t), "", "count")
	require.NoError(t, err)
	assert.Equal(t, "2\n", stdout)
}

func TestCountJSON(t *testing.T) {
	stdout, _, err := executeCLI(t, newFakeNode(t), "", "count", "-o", "json")
	require.NoError(t, err)

	var out countOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, uint64(2), out.TotalWaves)
}

func TestWavesNewestFirstJSON(t *testing.T) {
	stdout, _, err := executeCLI(t, newFakeNode(t), "", "waves", "-o", "json")
	require.NoError(t, err)

	var waves []waveOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &waves))
	require.Len(t, waves, 2)
	assert.Equal(t, "wagmi", waves[0].Message)
	assert.Equal(t, int64(1_650_000_000), waves[0].SentAt.Unix())
	assert.Equal(t, "0x2222222222222222222222222222222222222222", waves[0].Sender)
}

func TestWavesLedgerOrderYAML(t *testing.T) {
	stdout, _, err := executeCLI(t, newFakeNode(t), "", "--order", "ledger", "waves", "-o", "yaml")
	require.NoError(t, err)

	var waves []waveOutput
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &waves))
	require.Len(t, waves, 2)
	assert.Equal(t, "gm", waves[0].Message)
}

func TestWavesText(t *testing.T) {
	stdout, _, err := executeCLI(t, newFakeNode(t), "", "waves", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wagmi")
	assert.Contains(t, stdout, "2022-04-")
	assert.NotContains(t, stdout, "gm\n")
}

func TestStatusWithoutSigningAgent(t *testing.T) {
	stdout, _, err := executeCLI(t, newFakeNode(t), "", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, string(models.PhaseDisconnected))
	assert.Contains(t, stdout, string(models.KindNoProvider))
}

func TestWaveWithoutSigningAgent(t *testing.T) {
	node := newFakeNode(t)
	_, _, err := executeCLI(t, node, "", "wave", "hello")
	require.ErrorIs(t, err, models.ErrNoProvider)
	assert.Len(t, node.messages(), 2)
}

func TestWaveWithLocalKey(t *testing.T) {
	node := newFakeNode(t)
	stdout, stderr, err := executeCLIWithMnemonic(t, node, "",
		"--yes", "--chain-id", "31337", "--receipt-poll-interval", "10ms",
		"wave", "hello", "there", "-o", "json",
	)
	require.NoError(t, err, stderr)

	var view viewOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.Equal(t, string(models.PhaseIdle), view.Phase)
	assert.Equal(t, testAccount, view.Account)
	assert.Nil(t, view.LastError)
	assert.NotEmpty(t, view.LastTxHash)
	require.Len(t, view.Waves, 3)
	assert.Equal(t, "hello there", view.Waves[0].Message)
	assert.Equal(t, testAccount, view.Waves[0].Sender)
	assert.Equal(t, []string{"gm", "wagmi", "hello there"}, node.messages())
}

func TestWavePromptDeclined(t *testing.T) {
	node := newFakeNode(t)
	_, stderr, err := executeCLIWithMnemonic(t, node, "n\n", "--chain-id", "31337", "wave", "hello")
	require.ErrorIs(t, err, models.ErrUserRejected)
	assert.Contains(t, stderr, "Connect account "+testAccount)
	assert.Len(t, node.messages(), 2)
}

func TestWaveRejectsEmptyMessage(t *testing.T) {
	node := newFakeNode(t)
	_, _, err := executeCLIWithMnemonic(t, node, "", "--yes", "--chain-id", "31337", "wave", "  ")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Len(t, node.messages(), 2)
}

func TestInvalidOrderIsRejected(t *testing.T) {
	_, _, err := executeCLI(t, newFakeNode(t), "", "--order", "sideways", "count")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order must be")
}

func TestUnknownOutputFormat(t *testing.T) {
	_, _, err := executeCLI(t, newFakeNode(t), "", "count", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output format")
}
