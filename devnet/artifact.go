package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ethuo/core/chainio/signer"
)

const (
	EntryPointContract = "EntryPoint"
	FactoryContract    = "SimpleAccountFactory"
	WETHContract       = "WETH9"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact is a compiled contract as emitted by hardhat or foundry.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type rawArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// LoadArtifact accepts hardhat's `"bytecode": "0x.."` as well as foundry's
// `"bytecode": {"object": "0x.."}`.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse artifact %s: %w", path, err)
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("artifact %s has no abi", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("artifact %s has an invalid abi: %w", path, err)
	}

	code, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &Artifact{ContractName: name, ABI: parsed, Bytecode: code}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing bytecode")
	}

	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		var foundry struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &foundry); err != nil {
			return nil, fmt.Errorf("bytecode is neither a string nor an object: %w", err)
		}
		hex = foundry.Object
	}

	if !strings.HasPrefix(hex, "0x") {
		hex = "0x" + hex
	}
	code, err := hexutil.Decode(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, errors.New("empty bytecode, the contract is abstract or an interface")
	}
	return code, nil
}

// FindArtifact walks dir for <name>.json, skipping hardhat debug and
// build-info files.
func FindArtifact(dir, name string) (string, error) {
	want := name + ".json"
	var found string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == want {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrArtifactNotFound, name, dir)
	}
	return found, nil
}

// Deploy sends the creation transaction and waits until code is present at
// the new address.
func Deploy(ctx context.Context, backend signer.Backend, opts *bind.TransactOpts, artifact *Artifact, args ...interface{}) (common.Address, *types.Transaction, error) {
	addr, tx, _, err := bind.DeployContract(opts, artifact.ABI, artifact.Bytecode, backend, args...)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("cannot deploy %s: %w", artifact.ContractName, err)
	}
	if _, err := bind.WaitDeployed(ctx, backend, tx); err != nil {
		return common.Address{}, tx, fmt.Errorf("%s deployment %s failed: %w", artifact.ContractName, tx.Hash().Hex(), err)
	}
	return addr, tx, nil
}

type Stack struct {
	EntryPoint common.Address
	Factory    common.Address

	// WETH is zero when no WETH9 artifact was found.
	WETH common.Address
}

// DeployStack deploys EntryPoint, then SimpleAccountFactory bound to it, then
// WETH9 when an artifact for it exists. From a fresh deployer (nonce 0) the
// first two land on the well-known devnet addresses.
func DeployStack(ctx context.Context, backend signer.Backend, opts *bind.TransactOpts, artifactsDir string) (*Stack, error) {
	load := func(name string) (*Artifact, error) {
		path, err := FindArtifact(artifactsDir, name)
		if err != nil {
			return nil, err
		}
		return LoadArtifact(path)
	}

	epArtifact, err := load(EntryPointContract)
	if err != nil {
		return nil, err
	}
	factoryArtifact, err := load(FactoryContract)
	if err != nil {
		return nil, err
	}

	stack := &Stack{}
	if stack.EntryPoint, _, err = Deploy(ctx, backend, opts, epArtifact); err != nil {
		return nil, err
	}
	if stack.Factory, _, err = Deploy(ctx, backend, opts, factoryArtifact, stack.EntryPoint); err != nil {
		return nil, err
	}

	wethArtifact, err := load(WETHContract)
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		return stack, nil
	case err != nil:
		return nil, err
	}
	if stack.WETH, _, err = Deploy(ctx, backend, opts, wethArtifact); err != nil {
		return nil, err
	}
	return stack, nil
}
