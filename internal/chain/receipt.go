package chain

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func toReceipt(r *types.Receipt, abiFor func(common.Address) (abi.ABI, bool)) *Receipt {
	out := &Receipt{
		TxHash:          r.TxHash,
		GasUsed:         r.GasUsed,
		ContractAddress: r.ContractAddress,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}

	for _, log := range r.Logs {
		if log == nil || len(log.Topics) == 0 {
			continue
		}
		contractABI, ok := abiFor(log.Address)
		if !ok {
			continue
		}
		if ev, ok := decodeLog(contractABI, log); ok {
			out.Events = append(out.Events, ev)
		}
	}
	return out
}

// decodeLog parses a log against an ABI. Logs for unknown events are skipped.
func decodeLog(contractABI abi.ABI, log *types.Log) (Event, bool) {
	event, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return Event{}, false
	}

	args := make(map[string]any)
	if len(log.Data) > 0 {
		if err := event.Inputs.UnpackIntoMap(args, log.Data); err != nil {
			return Event{}, false
		}
	}

	var indexed abi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return Event{}, false
		}
	}

	return Event{Address: log.Address, Name: event.Name, Args: args}, true
}
