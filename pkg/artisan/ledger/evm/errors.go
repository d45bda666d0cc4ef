package evm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// decodeRevert turns custom-error revert data into a readable error carrying
// the matching artisan class. Errors without revert data pass through.
func decodeRevert(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil || len(data) < 4 {
		return err
	}

	if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
		if strings.Contains(err.Error(), reason) {
			return err
		}
		return fmt.Errorf("%w: %s", err, reason)
	}

	for name, abiErr := range contractABI.Errors {
		if !bytes.Equal(abiErr.ID[:4], data[:4]) {
			continue
		}
		args, unpackErr := abiErr.Unpack(data)
		if unpackErr != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
		values, _ := args.([]interface{})
		switch name {
		case "ERC721NonexistentToken":
			return fmt.Errorf("%w: %s%v", artisan.ErrNotFound, name, values)
		case "AccessControlUnauthorizedAccount":
			if len(values) == 2 {
				account, _ := values[0].(common.Address)
				role, _ := values[1].([32]byte)
				return fmt.Errorf("%w: account %s is missing role %s", artisan.ErrUnauthorized, account.Hex(), hexutil.Encode(role[:]))
			}
			return fmt.Errorf("%w: %s", artisan.ErrUnauthorized, name)
		}
		return fmt.Errorf("%w: %s%v", err, name, values)
	}
	return err
}
