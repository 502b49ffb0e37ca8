package userop

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x4C11D23Ff8CeE5BE7E7E1d4a8F8Fc4fD2f7e0A3b"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{},
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(35000),
		VerificationGasLimit: big.NewInt(70000),
		PreVerificationGas:   big.NewInt(48000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            DummySignature,
	}
}

func word(v *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(v))
}

func TestDummyValues(t *testing.T) {
	assert.Len(t, DummySignature, 65)
	assert.Equal(t, byte(0x1c), DummySignature[64])
	assert.Len(t, DummyPaymasterAndData, 20+65)
	op := &UserOperation{PaymasterAndData: DummyPaymasterAndData}
	assert.Equal(t, common.HexToAddress("0xC03Aac639Bb21233e0139381970328dB8bcEeB67"), op.Paymaster())
}

func TestGetUserOpHashMatchesManualEncoding(t *testing.T) {
	op := sampleOp()
	chainID := big.NewInt(1337)

	inner := crypto.Keccak256(
		common.LeftPadBytes(op.Sender.Bytes(), 32),
		word(op.Nonce),
		crypto.Keccak256(op.InitCode),
		crypto.Keccak256(op.CallData),
		word(op.CallGasLimit),
		word(op.VerificationGasLimit),
		word(op.PreVerificationGas),
		word(op.MaxFeePerGas),
		word(op.MaxPriorityFeePerGas),
		crypto.Keccak256(op.PaymasterAndData),
	)
	want := crypto.Keccak256Hash(inner, common.LeftPadBytes(entryPoint.Bytes(), 32), word(chainID))

	assert.Equal(t, want, op.GetUserOpHash(entryPoint, chainID))
}

func TestGetUserOpHashProperties(t *testing.T) {
	base := sampleOp()
	chainID := big.NewInt(1)
	h := base.GetUserOpHash(entryPoint, chainID)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, h, base.Clone().GetUserOpHash(entryPoint, chainID))
	})

	t.Run("signature is excluded", func(t *testing.T) {
		op := base.Clone()
		op.Signature = []byte{0x01, 0x02}
		assert.Equal(t, h, op.GetUserOpHash(entryPoint, chainID))
	})

	mutations := map[string]func(op *UserOperation){
		"sender":   func(op *UserOperation) { op.Sender = common.HexToAddress("0x01") },
		"nonce":    func(op *UserOperation) { op.Nonce = big.NewInt(8) },
		"initCode": func(op *UserOperation) { op.InitCode = []byte{0x01} },
		"callData": func(op *UserOperation) { op.CallData = []byte{0x02} },
		"cgl":      func(op *UserOperation) { op.CallGasLimit = big.NewInt(1) },
		"vgl":      func(op *UserOperation) { op.VerificationGasLimit = big.NewInt(1) },
		"pvg":      func(op *UserOperation) { op.PreVerificationGas = big.NewInt(1) },
		"maxFee":   func(op *UserOperation) { op.MaxFeePerGas = big.NewInt(1) },
		"prio":     func(op *UserOperation) { op.MaxPriorityFeePerGas = big.NewInt(1) },
		"pmd":      func(op *UserOperation) { op.PaymasterAndData = []byte{0x03} },
	}
	for name, mutate := range mutations {
		t.Run("differs on "+name, func(t *testing.T) {
			op := base.Clone()
			mutate(op)
			assert.NotEqual(t, h, op.GetUserOpHash(entryPoint, chainID))
		})
	}

	t.Run("differs on chain id", func(t *testing.T) {
		assert.NotEqual(t, h, base.GetUserOpHash(entryPoint, big.NewInt(2)))
	})

	t.Run("differs on entry point", func(t *testing.T) {
		assert.NotEqual(t, h, base.GetUserOpHash(common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3"), chainID))
	})
}

func TestJSONRoundTrip(t *testing.T) {
	op := sampleOp()
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "0x7", fields["nonce"])
	assert.Equal(t, "0x88b8", fields["callGasLimit"])
	assert.Equal(t, "0x", fields["initCode"])
	assert.Len(t, fields, 11)

	var back UserOperation
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, op.GetUserOpHash(entryPoint, big.NewInt(1)), back.GetUserOpHash(entryPoint, big.NewInt(1)))
	assert.Equal(t, op.Signature, back.Signature)
}

func TestCloneIsDeep(t *testing.T) {
	op := sampleOp()
	c := op.Clone()
	c.Nonce.SetInt64(99)
	c.CallData[0] = 0x00
	assert.Equal(t, int64(7), op.Nonce.Int64())
	assert.Equal(t, byte(0xb6), op.CallData[0])
}

func TestFactoryAndGas(t *testing.T) {
	factory := common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	op := sampleOp()
	op.InitCode = append(factory.Bytes(), 0x5f, 0xbf, 0xb9, 0xcf)
	assert.Equal(t, factory, op.Factory())
	assert.Equal(t, big.NewInt(35000+70000+48000), op.TotalGasLimit())
	assert.Equal(t, new(big.Int).Mul(big.NewInt(153000), big.NewInt(2_000_000_000)), op.MaxGasCost())
}

func TestPartialBuild(t *testing.T) {
	full := func() *Partial {
		return new(Partial).
			WithSender(common.HexToAddress("0x01")).
			WithNonce(big.NewInt(0)).
			WithInitCode([]byte{}).
			WithCallData([]byte{}).
			WithCallGasLimit(big.NewInt(1)).
			WithVerificationGasLimit(big.NewInt(1)).
			WithPreVerificationGas(big.NewInt(1)).
			WithMaxFeePerGas(big.NewInt(1)).
			WithMaxPriorityFeePerGas(big.NewInt(1)).
			WithPaymasterAndData([]byte{})
	}

	t.Run("complete without signature", func(t *testing.T) {
		op, err := full().Build()
		require.NoError(t, err)
		assert.NotNil(t, op.Signature)
		assert.Empty(t, op.Signature)
	})

	tests := []struct {
		field string
		clear func(p *Partial)
	}{
		{FieldSender, func(p *Partial) { p.Sender = nil }},
		{FieldNonce, func(p *Partial) { p.Nonce = nil }},
		{FieldInitCode, func(p *Partial) { p.InitCode = nil }},
		{FieldCallData, func(p *Partial) { p.CallData = nil }},
		{FieldCallGasLimit, func(p *Partial) { p.CallGasLimit = nil }},
		{FieldVerificationGasLimit, func(p *Partial) { p.VerificationGasLimit = nil }},
		{FieldPreVerificationGas, func(p *Partial) { p.PreVerificationGas = nil }},
		{FieldMaxFeePerGas, func(p *Partial) { p.MaxFeePerGas = nil }},
		{FieldMaxPriorityFeePerGas, func(p *Partial) { p.MaxPriorityFeePerGas = nil }},
		{FieldPaymasterAndData, func(p *Partial) { p.PaymasterAndData = nil }},
	}
	for _, tt := range tests {
		t.Run("missing "+tt.field, func(t *testing.T) {
			p := full()
			tt.clear(p)
			_, err := p.Build()
			var missing *MissingFieldError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, tt.field, missing.Field)
		})
	}

	t.Run("first missing wins", func(t *testing.T) {
		_, err := new(Partial).WithCallData([]byte{}).Build()
		var missing *MissingFieldError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, FieldSender, missing.Field)
	})
}
