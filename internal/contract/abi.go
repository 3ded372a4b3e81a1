package contract

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	fixtureabi "github.com/AIAleph/mvp_ledger_mirror/fixtures/abi"
	"golang.org/x/crypto/sha3"
)

// The ledger ABI is embedded; function selectors are derived from it once at init.
type abiArgument struct {
	Type string `json:"type"`
}

type abiItem struct {
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	Inputs []abiArgument `json:"inputs"`
}

const wordSize = 32

var (
	selectors = map[string]string{}

	selAddToBlockchain     string
	selGetAllTransactions  string
	selGetTransactionCount string

	addressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	errShortData = errors.New("abi: return data too short")
)

func init() {
	loadABI(fixtureabi.Transactions)
	selAddToBlockchain = selectorOr("addToBlockchain", "addToBlockchain(address,uint256,string,string)")
	selGetAllTransactions = selectorOr("getAllTransactions", "getAllTransactions()")
	selGetTransactionCount = selectorOr("getTransactionCount", "getTransactionCount()")
}

func loadABI(raw []byte) {
	if len(raw) == 0 {
		return
	}
	var items []abiItem
	if err := json.Unmarshal(raw, &items); err != nil {
		panic(fmt.Sprintf("contract: unable to parse ledger ABI: %v", err))
	}
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		sig := signature(name, item.Inputs)
		if sig == "" {
			continue
		}
		if item.Type == "function" {
			selectors[name] = keccakHex(sig, 4)
		}
	}
}

// selectorOr returns the ABI-derived selector for name, or hashes fallback if
// the embedded ABI lacks it.
func selectorOr(name, fallback string) string {
	if s, ok := selectors[name]; ok {
		return s
	}
	s := keccakHex(fallback, 4)
	selectors[name] = s
	return s
}

func signature(name string, inputs []abiArgument) string {
	types := make([]string, len(inputs))
	for i, arg := range inputs {
		t := strings.ReplaceAll(strings.TrimSpace(arg.Type), " ", "")
		if t == "" {
			return ""
		}
		types[i] = t
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
}

func keccakHex(sig string, size int) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(sig))
	sum := hasher.Sum(nil)
	if size > len(sum) {
		size = len(sum)
	}
	return "0x" + hex.EncodeToString(sum[:size])
}

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool { return addressRe.MatchString(s) }

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// Encoding

func padWord(b []byte) []byte {
	w := make([]byte, wordSize)
	copy(w[wordSize-len(b):], b)
	return w
}

func uintWord(v *big.Int) ([]byte, error) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("abi: uint256 out of range: %s", v.String())
	}
	return padWord(v.Bytes()), nil
}

func addressWord(addr string) ([]byte, error) {
	if !ValidAddress(addr) {
		return nil, fmt.Errorf("abi: invalid address %q", addr)
	}
	raw, err := decodeHex(addr)
	if err != nil {
		return nil, err
	}
	return padWord(raw), nil
}

// stringTail encodes a dynamic string as length word plus right-padded bytes.
func stringTail(s string) []byte {
	b := []byte(s)
	out := padWord(big.NewInt(int64(len(b))).Bytes())
	padded := (len(b) + wordSize - 1) / wordSize * wordSize
	body := make([]byte, padded)
	copy(body, b)
	return append(out, body...)
}

// encodeAddToBlockchain builds calldata for addToBlockchain(address,uint256,string,string).
func encodeAddToBlockchain(receiver string, amount *big.Int, message, keyword string) (string, error) {
	addr, err := addressWord(receiver)
	if err != nil {
		return "", err
	}
	amt, err := uintWord(amount)
	if err != nil {
		return "", err
	}
	msgTail := stringTail(message)
	kwTail := stringTail(keyword)
	headLen := 4 * wordSize
	buf := make([]byte, 0, headLen+len(msgTail)+len(kwTail))
	buf = append(buf, addr...)
	buf = append(buf, amt...)
	buf = append(buf, padWord(big.NewInt(int64(headLen)).Bytes())...)
	buf = append(buf, padWord(big.NewInt(int64(headLen+len(msgTail))).Bytes())...)
	buf = append(buf, msgTail...)
	buf = append(buf, kwTail...)
	return selAddToBlockchain + hex.EncodeToString(buf), nil
}

// Decoding

// abiReader reads 32-byte words from ABI-encoded return data. Every read is
// bounds-checked so malformed data fails instead of decoding partially.
type abiReader struct {
	data []byte
}

func (r abiReader) word(off int) ([]byte, error) {
	if off < 0 || off+wordSize > len(r.data) {
		return nil, fmt.Errorf("%w: word at %d of %d bytes", errShortData, off, len(r.data))
	}
	return r.data[off : off+wordSize], nil
}

func (r abiReader) uint256(off int) (*big.Int, error) {
	w, err := r.word(off)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// smallInt reads a word that must fit in the data length (offsets, lengths).
func (r abiReader) smallInt(off int) (int, error) {
	v, err := r.uint256(off)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() > int64(len(r.data)) {
		return 0, fmt.Errorf("abi: value %s at %d exceeds data length %d", v.String(), off, len(r.data))
	}
	return int(v.Int64()), nil
}

func (r abiReader) address(off int) (string, error) {
	w, err := r.word(off)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(w[12:]), nil
}

func (r abiReader) str(at int) (string, error) {
	n, err := r.smallInt(at)
	if err != nil {
		return "", err
	}
	start := at + wordSize
	if start+n > len(r.data) {
		return "", fmt.Errorf("%w: string of %d bytes at %d", errShortData, n, at)
	}
	return string(r.data[start : start+n]), nil
}

// decodeUint256 decodes a single static uint256 return value.
func decodeUint256(data []byte) (*big.Int, error) {
	return abiReader{data: data}.uint256(0)
}

// decodeTransfers decodes the TransferStruct[] returned by getAllTransactions.
func decodeTransfers(data []byte) ([]TransferRecord, error) {
	r := abiReader{data: data}
	arrOff, err := r.smallInt(0)
	if err != nil {
		return nil, err
	}
	n, err := r.smallInt(arrOff)
	if err != nil {
		return nil, err
	}
	elems := arrOff + wordSize
	if elems+n*wordSize > len(data) {
		return nil, fmt.Errorf("%w: %d tuple offsets at %d", errShortData, n, elems)
	}
	out := make([]TransferRecord, 0, n)
	for i := 0; i < n; i++ {
		rel, err := r.smallInt(elems + i*wordSize)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rec, err := decodeTransfer(r, elems+rel)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodeTransfer reads (address,address,uint256,string,uint256,string) at base.
func decodeTransfer(r abiReader, base int) (TransferRecord, error) {
	var rec TransferRecord
	var err error
	if rec.Sender, err = r.address(base); err != nil {
		return rec, err
	}
	if rec.Receiver, err = r.address(base + wordSize); err != nil {
		return rec, err
	}
	if rec.Amount, err = r.uint256(base + 2*wordSize); err != nil {
		return rec, err
	}
	msgRel, err := r.smallInt(base + 3*wordSize)
	if err != nil {
		return rec, err
	}
	if rec.Message, err = r.str(base + msgRel); err != nil {
		return rec, err
	}
	ts, err := r.uint256(base + 4*wordSize)
	if err != nil {
		return rec, err
	}
	if !ts.IsInt64() {
		return rec, fmt.Errorf("abi: timestamp %s out of range", ts.String())
	}
	rec.Timestamp = ts.Int64()
	kwRel, err := r.smallInt(base + 5*wordSize)
	if err != nil {
		return rec, err
	}
	if rec.Keyword, err = r.str(base + kwRel); err != nil {
		return rec, err
	}
	return rec, nil
}
