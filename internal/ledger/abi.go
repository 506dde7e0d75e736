package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// Contract methods.
const (
	MethodGetTotalWaves = "getTotalWaves"
	MethodGetAllWaves   = "getAllWaves"
	MethodWave          = "wave"
)

// WavePortalABI is the interface of the deployed WavePortal contract.
const WavePortalABI = `[
  {"type":"function","name":"getTotalWaves","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256","internalType":"uint256"}]},
  {"type":"function","name":"getAllWaves","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"tuple[]","internalType":"struct WavePortal.Wave[]","components":[
     {"name":"waver","type":"address","internalType":"address"},
     {"name":"timestamp","type":"uint256","internalType":"uint256"},
     {"name":"message","type":"string","internalType":"string"}]}]},
  {"type":"function","name":"wave","stateMutability":"nonpayable",
   "inputs":[{"name":"_message","type":"string","internalType":"string"}],"outputs":[]},
  {"type":"event","name":"NewWave","anonymous":false,"inputs":[
     {"name":"from","type":"address","indexed":true,"internalType":"address"},
     {"name":"timestamp","type":"uint256","indexed":false,"internalType":"uint256"},
     {"name":"message","type":"string","indexed":false,"internalType":"string"}]}
]`

// waveTuple mirrors WavePortal.Wave. Field order must follow the ABI components.
type waveTuple struct {
	Waver     common.Address
	Timestamp *big.Int
	Message   string
}

func (w waveTuple) record() (models.WaveRecord, error) {
	if w.Timestamp == nil || !w.Timestamp.IsInt64() {
		return models.WaveRecord{}, fmt.Errorf("wave from %s: timestamp %v out of range", w.Waver.Hex(), w.Timestamp)
	}
	return models.WaveRecord{
		Sender:  models.Account(w.Waver.Hex()),
		SentAt:  w.Timestamp.Int64(),
		Message: w.Message,
	}, nil
}

// convertWaves turns the ABI decoder's anonymous tuple slice into waveTuples.
func convertWaves(v any) (waves []waveTuple, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected getAllWaves shape %T: %v", v, r)
		}
	}()
	return *abi.ConvertType(v, new([]waveTuple)).(*[]waveTuple), nil
}
