package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Field names in canonical order. Build reports the first absent one.
const (
	FieldSender               = "sender"
	FieldNonce                = "nonce"
	FieldInitCode             = "initCode"
	FieldCallData             = "callData"
	FieldCallGasLimit         = "callGasLimit"
	FieldVerificationGasLimit = "verificationGasLimit"
	FieldPreVerificationGas   = "preVerificationGas"
	FieldMaxFeePerGas         = "maxFeePerGas"
	FieldMaxPriorityFeePerGas = "maxPriorityFeePerGas"
	FieldPaymasterAndData     = "paymasterAndData"
)

// MissingFieldError is returned by Partial.Build when a required field was never set.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("user operation field %s is not set", e.Field)
}

// Partial is a UserOperation under construction. Every field is optional until Build.
// A nil slice means unset; an empty non-nil slice is a legitimately empty value.
type Partial struct {
	Sender               *common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

func (p *Partial) WithSender(v common.Address) *Partial { p.Sender = &v; return p }
func (p *Partial) WithNonce(v *big.Int) *Partial        { p.Nonce = cloneBig(v); return p }
func (p *Partial) WithInitCode(v []byte) *Partial       { p.InitCode = nonNil(v); return p }
func (p *Partial) WithCallData(v []byte) *Partial       { p.CallData = nonNil(v); return p }
func (p *Partial) WithCallGasLimit(v *big.Int) *Partial { p.CallGasLimit = cloneBig(v); return p }
func (p *Partial) WithVerificationGasLimit(v *big.Int) *Partial {
	p.VerificationGasLimit = cloneBig(v)
	return p
}
func (p *Partial) WithPreVerificationGas(v *big.Int) *Partial {
	p.PreVerificationGas = cloneBig(v)
	return p
}
func (p *Partial) WithMaxFeePerGas(v *big.Int) *Partial { p.MaxFeePerGas = cloneBig(v); return p }
func (p *Partial) WithMaxPriorityFeePerGas(v *big.Int) *Partial {
	p.MaxPriorityFeePerGas = cloneBig(v)
	return p
}
func (p *Partial) WithPaymasterAndData(v []byte) *Partial { p.PaymasterAndData = nonNil(v); return p }
func (p *Partial) WithSignature(v []byte) *Partial        { p.Signature = nonNil(v); return p }

// Missing returns the first unset field in canonical order, or "" when the
// ten pre-signature fields are all present.
func (p *Partial) Missing() string {
	switch {
	case p.Sender == nil:
		return FieldSender
	case p.Nonce == nil:
		return FieldNonce
	case p.InitCode == nil:
		return FieldInitCode
	case p.CallData == nil:
		return FieldCallData
	case p.CallGasLimit == nil:
		return FieldCallGasLimit
	case p.VerificationGasLimit == nil:
		return FieldVerificationGasLimit
	case p.PreVerificationGas == nil:
		return FieldPreVerificationGas
	case p.MaxFeePerGas == nil:
		return FieldMaxFeePerGas
	case p.MaxPriorityFeePerGas == nil:
		return FieldMaxPriorityFeePerGas
	case p.PaymasterAndData == nil:
		return FieldPaymasterAndData
	}
	return ""
}

// Build produces a complete UserOperation. An unset signature becomes empty.
func (p *Partial) Build() (*UserOperation, error) {
	if field := p.Missing(); field != "" {
		return nil, &MissingFieldError{Field: field}
	}

	op := &UserOperation{
		Sender:               *p.Sender,
		Nonce:                cloneBig(p.Nonce),
		InitCode:             cloneBytes(p.InitCode),
		CallData:             cloneBytes(p.CallData),
		CallGasLimit:         cloneBig(p.CallGasLimit),
		VerificationGasLimit: cloneBig(p.VerificationGasLimit),
		PreVerificationGas:   cloneBig(p.PreVerificationGas),
		MaxFeePerGas:         cloneBig(p.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(p.MaxPriorityFeePerGas),
		PaymasterAndData:     cloneBytes(p.PaymasterAndData),
		Signature:            []byte{},
	}
	if p.Signature != nil {
		op.Signature = cloneBytes(p.Signature)
	}
	return op, nil
}

// Clone returns a deep copy of the partial.
func (p *Partial) Clone() *Partial {
	c := &Partial{
		Nonce:                cloneBig(p.Nonce),
		InitCode:             cloneBytes(p.InitCode),
		CallData:             cloneBytes(p.CallData),
		CallGasLimit:         cloneBig(p.CallGasLimit),
		VerificationGasLimit: cloneBig(p.VerificationGasLimit),
		PreVerificationGas:   cloneBig(p.PreVerificationGas),
		MaxFeePerGas:         cloneBig(p.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(p.MaxPriorityFeePerGas),
		PaymasterAndData:     cloneBytes(p.PaymasterAndData),
		Signature:            cloneBytes(p.Signature),
	}
	if p.Sender != nil {
		s := *p.Sender
		c.Sender = &s
	}
	return c
}
