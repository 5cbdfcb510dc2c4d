// Package ckkswrapper bundles the CKKS parameters and keys used to score
// the model head under homomorphic encryption.
package ckkswrapper

import (
	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// DefaultLogN is the ring degree used by NewHeContext.
const DefaultLogN = 13

// HeContext holds the parameters and the client-side key material.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor
	KeyGen    *rlwe.KeyGenerator

	sk *rlwe.SecretKey
	pk *rlwe.PublicKey
}

// ServerKit is what the evaluating side needs: an evaluator loaded with
// relinearization and rotation keys, and an encoder for plaintext weights.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator
}

// NewHeContext builds a context with DefaultLogN. It panics on invalid
// parameters since the literal is fixed.
func NewHeContext() *HeContext {
	h, err := NewHeContextWithLogN(DefaultLogN)
	if err != nil {
		panic(err)
	}
	return h
}

// NewHeContextWithLogN builds a context for ring degree 2^logN with two
// rescaling levels, enough for one plaintext product plus headroom.
func NewHeContextWithLogN(logN int) (*HeContext, error) {
	if logN < 10 || logN > 16 {
		return nil, errors.Errorf("logN %d out of range [10, 16]", logN)
	}
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{55, 40, 40},
		LogP:            []int{45},
		LogDefaultScale: 40,
	})
	if err != nil {
		return nil, errors.Wrap(err, "ckks parameters")
	}
	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: rlwe.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		KeyGen:    kgen,
		sk:        sk,
		pk:        pk,
	}, nil
}

// GenServerKit generates relinearization keys and Galois keys for rots.
func (h *HeContext) GenServerKit(rots []int) *ServerKit {
	rlk := h.KeyGen.GenRelinearizationKeyNew(h.sk)
	var gks []*rlwe.GaloisKey
	if len(rots) > 0 {
		gks = h.KeyGen.GenGaloisKeysNew(h.Params.GaloisElements(rots), h.sk)
	}
	evk := rlwe.NewMemEvaluationKeySet(rlk, gks...)
	return &ServerKit{
		Params:    h.Params,
		Encoder:   ckks.NewEncoder(h.Params),
		Evaluator: ckks.NewEvaluator(h.Params, evk),
	}
}

// Slots is the number of real values one ciphertext carries.
func (h *HeContext) Slots() int { return h.Params.MaxSlots() }

// EncodeVector encodes values (zero padded) into a plaintext at max level.
func (k *ServerKit) EncodeVector(values []float64) (*rlwe.Plaintext, error) {
	if len(values) > k.Params.MaxSlots() {
		return nil, errors.Errorf("vector of %d values exceeds %d slots", len(values), k.Params.MaxSlots())
	}
	vec := make([]float64, k.Params.MaxSlots())
	copy(vec, values)
	pt := ckks.NewPlaintext(k.Params, k.Params.MaxLevel())
	if err := k.Encoder.Encode(vec, pt); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return pt, nil
}

// EncryptVector encodes and encrypts values (zero padded) at max level.
func (h *HeContext) EncryptVector(values []float64) (*rlwe.Ciphertext, error) {
	if len(values) > h.Slots() {
		return nil, errors.Errorf("vector of %d values exceeds %d slots", len(values), h.Slots())
	}
	vec := make([]float64, h.Slots())
	copy(vec, values)
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(vec, pt); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	ct, err := h.Encryptor.EncryptNew(pt)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt")
	}
	return ct, nil
}

// DecryptVector decrypts ct and returns the first n slots.
func (h *HeContext) DecryptVector(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	pt := h.Decryptor.DecryptNew(ct)
	vec := make([]float64, h.Slots())
	if err := h.Encoder.Decode(pt, vec); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if n > len(vec) {
		n = len(vec)
	}
	return vec[:n], nil
}

// TreeSumRotations lists the rotations needed to fold n slots into slot 0.
func TreeSumRotations(n int) []int {
	var rots []int
	for step := 1; step < n; step *= 2 {
		rots = append(rots, step)
	}
	return rots
}

// TreeSum folds the first n slots of ct into slot 0 by rotate-and-add.
// Slots past slot 0 hold partial sums afterwards.
func (k *ServerKit) TreeSum(ct *rlwe.Ciphertext, n int) (*rlwe.Ciphertext, error) {
	acc := ct
	for _, step := range TreeSumRotations(n) {
		rot, err := k.Evaluator.RotateNew(acc, step)
		if err != nil {
			return nil, errors.Wrapf(err, "rotate by %d", step)
		}
		if acc, err = k.Evaluator.AddNew(acc, rot); err != nil {
			return nil, errors.Wrap(err, "add")
		}
	}
	return acc, nil
}
