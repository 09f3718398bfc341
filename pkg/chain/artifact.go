package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotDeployed    = errors.New("contract not deployed on network")
	ErrInvalidAddress = errors.New("invalid contract address")
)

// Artifact is the subset of a Truffle build artifact the listener needs.
type Artifact struct {
	ContractName string                  `json:"contractName"`
	ABI          json.RawMessage         `json:"abi"`
	Networks     map[string]NetworkEntry `json:"networks"`
}

type NetworkEntry struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Contract is a deployed contract: its address on one network and its ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// LoadArtifact reads a build artifact from path.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open contract artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseArtifact(f)
}

func ParseArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode contract artifact: %w", err)
	}
	if len(a.ABI) == 0 {
		return nil, fmt.Errorf("contract artifact %q has no abi", a.ContractName)
	}
	return &a, nil
}

// Contract resolves the deployment of the artifact on networkID.
func (a *Artifact) Contract(networkID uint64) (*Contract, error) {
	entry, ok := a.Networks[strconv.FormatUint(networkID, 10)]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %d", ErrNotDeployed, a.ContractName, networkID)
	}
	if !common.IsHexAddress(entry.Address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, entry.Address)
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi of %s: %w", a.ContractName, err)
	}
	return &Contract{
		Name:    a.ContractName,
		Address: common.HexToAddress(entry.Address),
		ABI:     parsed,
	}, nil
}
