// Package blscrypto is the thin wrapper around the external BLS/pairing
// library that the rest of this module is allowed to touch: the pairing
// math itself - key generation, partial signing and verification, threshold
// aggregation - is treated as an external collaborator, and nothing above
// this package should import kyber directly. The concrete library wired in
// here is github.com/drand/kyber plus its BLS12-381 pairing suite,
// github.com/drand/kyber-bls12381.
package blscrypto

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/drand/kyber"
	bls12381 "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
	"github.com/drand/kyber/share"
	dkg "github.com/drand/kyber/share/dkg/pedersen"
	"github.com/drand/kyber/sign/bls"
	"github.com/drand/kyber/sign/tbls"

	randcasterrors "github.com/randcast/coordinator/common/errors"
)

// Suite returns the pairing suite used for every keypair, DKG round and
// signature in this module. Group public keys and partial public keys live
// in G2, signatures and partial signatures live in G1 — the same split
// drand itself uses for its BLS12-381 scheme.
func Suite() pairing.Suite {
	return bls12381.NewBLS12381Suite()
}

// KeyPair is a participant's long-term identity keypair.
type KeyPair struct {
	Private kyber.Scalar
	Public  kyber.Point
}

// GenerateKeyPair creates a fresh identity keypair for a node registering
// with the controller.
func GenerateKeyPair(suite pairing.Suite) (*KeyPair, error) {
	priv := suite.G2().Scalar().Pick(suite.RandomStream())
	pub := suite.G2().Point().Mul(priv, nil)
	return &KeyPair{Private: priv, Public: pub}, nil
}

// MarshalPoint encodes a curve point to its wire form.
func MarshalPoint(p kyber.Point) ([]byte, error) {
	return p.MarshalBinary()
}

// UnmarshalG2Point decodes identity / group / partial public keys, which all
// live in G2. It returns ErrPublicKeyBadFormat rather than the underlying
// decode error, matching the controller's error taxonomy for commit_dkg.
func UnmarshalG2Point(suite pairing.Suite, b []byte) (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %s", randcasterrors.ErrPublicKeyBadFormat, err)
	}
	return p, nil
}

// Participant drives one node's side of the Joint-Feldman DKG. It wraps
// kyber's pedersen DistKeyGenerator, driven directly, phase by phase, since
// the coordinator's phase clock is polled by the node runtime rather than
// pushed by an in-process phaser.
type Participant struct {
	suite pairing.Suite
	gen   *dkg.DistKeyGenerator
}

// NewParticipant starts a fresh DKG participant for this epoch.
func NewParticipant(suite pairing.Suite, priv kyber.Scalar, pubKeys []kyber.Point, threshold int) (*Participant, error) {
	gen, err := dkg.NewDistKeyGenerator(suite, priv, pubKeys, threshold)
	if err != nil {
		return nil, fmt.Errorf("initializing dkg participant: %w", err)
	}
	return &Participant{suite: suite, gen: gen}, nil
}

// Deals returns this participant's encrypted deals, one opaque blob to
// publish per recipient index. The blobs are safe to post to the
// coordinator's public bulletin board: each deal's secret share is encrypted
// under the recipient's long-term public key.
func (p *Participant) Deals() (map[int][]byte, error) {
	deals, err := p.gen.Deals()
	if err != nil {
		return nil, fmt.Errorf("generating deals: %w", err)
	}
	out := make(map[int][]byte, len(deals))
	for idx, deal := range deals {
		b, err := encodeGob(deal)
		if err != nil {
			return nil, fmt.Errorf("encoding deal for %d: %w", idx, err)
		}
		out[idx] = b
	}
	return out, nil
}

// ProcessDeal consumes one published deal addressed to this participant and
// returns the response to publish back.
func (p *Participant) ProcessDeal(dealBytes []byte) ([]byte, error) {
	var deal dkg.Deal
	if err := decodeGob(dealBytes, &deal); err != nil {
		return nil, fmt.Errorf("decoding deal: %w", err)
	}
	resp, err := p.gen.ProcessDeal(&deal)
	if err != nil {
		return nil, fmt.Errorf("processing deal: %w", err)
	}
	return encodeGob(resp)
}

// ProcessResponse consumes one published response. It returns a
// justification to publish if, and only if, the response reports a
// complaint against this participant's deal.
func (p *Participant) ProcessResponse(respBytes []byte) ([]byte, error) {
	var resp dkg.Response
	if err := decodeGob(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	justif, err := p.gen.ProcessResponse(&resp)
	if err != nil {
		return nil, fmt.Errorf("processing response: %w", err)
	}
	if justif == nil {
		return nil, nil
	}
	return encodeGob(justif)
}

// ProcessJustification consumes one published justification.
func (p *Participant) ProcessJustification(justifBytes []byte) error {
	var justif dkg.Justification
	if err := decodeGob(justifBytes, &justif); err != nil {
		return fmt.Errorf("decoding justification: %w", err)
	}
	if err := p.gen.ProcessJustification(&justif); err != nil {
		return fmt.Errorf("processing justification: %w", err)
	}
	return nil
}

// Certified reports whether enough qualified participants remain to
// finalize a group key.
func (p *Participant) Certified() bool {
	return p.gen.Certified()
}

// QUAL returns the indices of the participants that ended the protocol
// qualified. Any registered index missing from this set is disqualified.
func (p *Participant) QUAL() []int {
	return p.gen.QUAL()
}

// Result is what a node derives locally once its DKG participant is
// certified: the group public key, this node's own partial public key, and
// its usable secret share.
type Result struct {
	GroupPublicKey    kyber.Point
	OwnPartialPublic  kyber.Point
	OwnPriShare       *share.PriShare
	Commitments       []kyber.Point
}

// DistKeyShare finalizes this participant's view of the DKG once Certified
// reports true.
func (p *Participant) DistKeyShare() (*Result, error) {
	dks, err := p.gen.DistKeyShare()
	if err != nil {
		return nil, fmt.Errorf("finalizing dist key share: %w", err)
	}
	pri := dks.PriShare()
	pub := share.NewPubPoly(p.suite.G2(), p.suite.G2().Point().Base(), dks.Commitments())
	return &Result{
		GroupPublicKey:   dks.Public(),
		OwnPartialPublic: pub.Eval(pri.I).V,
		OwnPriShare:      pri,
		Commitments:      dks.Commitments(),
	}, nil
}

// SignPartial produces this participant's partial signature over msg using
// its DKG secret share.
func SignPartial(suite pairing.Suite, share *share.PriShare, msg []byte) ([]byte, error) {
	return tbls.Sign(suite, share, msg)
}

// VerifyPartial checks a single partial signature against the group's
// public polynomial (built from the finalized commitments) and the index
// embedded in the signature share.
func VerifyPartial(suite pairing.Suite, commitments []kyber.Point, msg, partialSig []byte) error {
	pubPoly := share.NewPubPoly(suite.G2(), suite.G2().Point().Base(), commitments)
	idx, raw, err := splitShare(partialSig)
	if err != nil {
		return err
	}
	pubShare := pubPoly.Eval(idx)
	if err := bls.Verify(suite, pubShare.V, msg, raw); err != nil {
		return fmt.Errorf("%w: %s", randcasterrors.ErrBLSVerifyFailed, err)
	}
	return nil
}

// VerifyPartialAgainstKey checks a single partial signature directly
// against one member's own partial public key, stripping the index prefix
// tbls.Sign embeds. This is what fulfill_randomness and
// challenge_verifiable_reward use: the controller keeps each member's
// partial public key from its DKG commitment, so there is no need to
// rebuild the full public polynomial the way the committer's VerifyPartial
// does when it only has the commitment list.
func VerifyPartialAgainstKey(suite pairing.Suite, partialPublicKey kyber.Point, msg, partialSig []byte) error {
	_, raw, err := splitShare(partialSig)
	if err != nil {
		return err
	}
	if err := bls.Verify(suite, partialPublicKey, msg, raw); err != nil {
		return fmt.Errorf("%w: %s", randcasterrors.ErrBLSVerifyFailed, err)
	}
	return nil
}

// AggregateAndVerify recovers the group threshold signature from partial
// signatures and verifies it reconstructs correctly against the group
// public key. fulfill_randomness itself verifies via VerifyAggregate once
// the caller supplies an already-aggregated signature; this helper is used
// by the committer, which performs the aggregation itself before
// submitting.
func AggregateAndVerify(suite pairing.Suite, commitments []kyber.Point, msg string, partialSigs [][]byte, threshold, n int) ([]byte, error) {
	pubPoly := share.NewPubPoly(suite.G2(), suite.G2().Point().Base(), commitments)
	sig, err := tbls.Recover(suite, pubPoly, []byte(msg), partialSigs, threshold, n)
	if err != nil {
		return nil, fmt.Errorf("recovering threshold signature: %w", err)
	}
	if err := bls.Verify(suite, pubPoly.Commit(), []byte(msg), sig); err != nil {
		return nil, fmt.Errorf("%w: %s", randcasterrors.ErrBLSVerifyFailed, err)
	}
	return sig, nil
}

// VerifyAggregate verifies a signature that was already aggregated
// elsewhere (e.g. submitted by a committer) against the group's public key.
// This is fulfill_randomness's step 1.
func VerifyAggregate(suite pairing.Suite, groupPublicKey kyber.Point, msg string, sig []byte) error {
	if err := bls.Verify(suite, groupPublicKey, []byte(msg), sig); err != nil {
		return fmt.Errorf("%w: %s", randcasterrors.ErrBLSVerifyFailed, err)
	}
	return nil
}

// EncodeDealBundle packs one participant's whole Deals() map into a single
// blob, the payload it posts once to the coordinator's shares bucket; every
// other participant decodes the bundle and keeps only the entry addressed
// to its own index.
func EncodeDealBundle(deals map[int][]byte) ([]byte, error) {
	return encodeGob(deals)
}

// DecodeDealBundle reverses EncodeDealBundle.
func DecodeDealBundle(b []byte) (map[int][]byte, error) {
	var deals map[int][]byte
	if err := decodeGob(b, &deals); err != nil {
		return nil, fmt.Errorf("decoding deal bundle: %w", err)
	}
	return deals, nil
}

// EncodeBlobs packs a list of already-encoded artifacts (responses or
// justifications) into the single payload one participant posts per phase.
func EncodeBlobs(blobs [][]byte) ([]byte, error) {
	return encodeGob(blobs)
}

// DecodeBlobs reverses EncodeBlobs.
func DecodeBlobs(b []byte) ([][]byte, error) {
	var blobs [][]byte
	if err := decodeGob(b, &blobs); err != nil {
		return nil, fmt.Errorf("decoding blob list: %w", err)
	}
	return blobs, nil
}

func splitShare(partialSig []byte) (int, []byte, error) {
	if len(partialSig) < 2 {
		return 0, nil, fmt.Errorf("partial signature too short: %d bytes", len(partialSig))
	}
	idx := int(binary.BigEndian.Uint16(partialSig[:2]))
	return idx, partialSig[2:], nil
}

//nolint:gochecknoinits // registers the concrete point/scalar types hiding behind the kyber.Point/kyber.Scalar interfaces so gob can encode them
func init() {
	suite := Suite()
	gob.Register(suite.G1().Point())
	gob.Register(suite.G2().Point())
	gob.Register(suite.G1().Scalar())
}

// encodeGob / decodeGob bridge kyber's Go-native DKG protocol messages
// (Deal, Response, Justification) to the opaque byte-string transport the
// coordinator's bulletin board requires. Unlike kyber.Scalar/kyber.Point,
// these protocol structs don't expose their own binary marshaler, so gob is
// the stdlib bridge — see DESIGN.md.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
