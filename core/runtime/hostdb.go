// Copyright 2024 The aotevm Authors
// This file is part of the aotevm library.
//
// The aotevm library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The aotevm library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the aotevm library. If not, see <http://www.gnu.org/licenses/>.

package runtime

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// storageSlot tracks the value a slot had when the transaction started, for
// the EIP-2200 schedule.
type storageSlot struct {
	original common.Hash
	current  common.Hash
}

// account is one entry of the in-memory backend.
type account struct {
	balance *uint256.Int
	code    []byte
	storage map[common.Hash]*storageSlot
}

// MemoryDb is a self-contained Host used by tests and the CLI run command.
// It implements per-transaction warm/cold tracking for accounts and storage
// slots and the EIP-2200 storage gas schedule. Refunds are accumulated but
// never surfaced to compiled code.
type MemoryDb struct {
	accounts     map[common.Address]*account
	warmAccounts map[common.Address]bool
	warmSlots    map[common.Address]map[common.Hash]bool
	blockHashes  map[uint64]common.Hash
	refund       uint64

	// CallFn, when set, handles nested calls. Without it, no callee code
	// runs and the call succeeds with no return data; the access, value and
	// new-account charges still apply.
	CallFn func(p CallParams) CallResult
}

// NewMemoryDb returns an empty backend.
func NewMemoryDb() *MemoryDb {
	return &MemoryDb{
		accounts:     make(map[common.Address]*account),
		warmAccounts: make(map[common.Address]bool),
		warmSlots:    make(map[common.Address]map[common.Hash]bool),
		blockHashes:  make(map[uint64]common.Hash),
	}
}

// SetAccount installs an account with the given balance and code.
func (db *MemoryDb) SetAccount(addr common.Address, balance *uint256.Int, code []byte) {
	db.accounts[addr] = &account{
		balance: balance.Clone(),
		code:    code,
		storage: make(map[common.Hash]*storageSlot),
	}
}

// SetStorage seeds a storage slot; the value becomes the slot's original
// for the EIP-2200 schedule.
func (db *MemoryDb) SetStorage(addr common.Address, key, value common.Hash) {
	acc := db.ensure(addr)
	acc.storage[key] = &storageSlot{original: value, current: value}
}

// SetBlockHash seeds the hash returned for a block number.
func (db *MemoryDb) SetBlockHash(number uint64, hash common.Hash) {
	db.blockHashes[number] = hash
}

// StorageAt reads the current value of a slot without gas effects.
func (db *MemoryDb) StorageAt(addr common.Address, key common.Hash) common.Hash {
	if acc := db.accounts[addr]; acc != nil {
		if slot := acc.storage[key]; slot != nil {
			return slot.current
		}
	}
	return common.Hash{}
}

// Refund returns the refund counter accumulated by storage clears.
func (db *MemoryDb) Refund() uint64 { return db.refund }

func (db *MemoryDb) ensure(addr common.Address) *account {
	acc := db.accounts[addr]
	if acc == nil {
		acc = &account{balance: new(uint256.Int), storage: make(map[common.Hash]*storageSlot)}
		db.accounts[addr] = acc
	}
	return acc
}

// touchAccount marks the account warm and returns its access cost.
func (db *MemoryDb) touchAccount(addr common.Address) uint64 {
	if db.warmAccounts[addr] {
		return params.WarmStorageReadCostEIP2929
	}
	db.warmAccounts[addr] = true
	return params.ColdAccountAccessCostEIP2929
}

// touchSlot marks the slot warm and returns the cold surcharge, zero when
// already warm.
func (db *MemoryDb) touchSlot(addr common.Address, key common.Hash) uint64 {
	slots := db.warmSlots[addr]
	if slots == nil {
		slots = make(map[common.Hash]bool)
		db.warmSlots[addr] = slots
	}
	if slots[key] {
		return 0
	}
	slots[key] = true
	return params.ColdSloadCostEIP2929
}

// SLoad implements Host. The first access of a slot in a transaction is
// cold and pays the account-access rate; subsequent accesses are warm.
func (db *MemoryDb) SLoad(addr common.Address, key common.Hash) (common.Hash, uint64) {
	gas := uint64(params.WarmStorageReadCostEIP2929)
	if db.touchSlot(addr, key) != 0 {
		gas = params.ColdAccountAccessCostEIP2929
	}
	return db.StorageAt(addr, key), gas
}

// SStore implements Host with the EIP-2200 schedule adjusted per EIP-2929:
// a cold slot pays the cold-sload surcharge on top of the schedule.
func (db *MemoryDb) SStore(addr common.Address, key, value common.Hash) uint64 {
	gas := db.touchSlot(addr, key)

	acc := db.ensure(addr)
	slot := acc.storage[key]
	if slot == nil {
		slot = &storageSlot{}
		acc.storage[key] = slot
	}
	current, original := slot.current, slot.original
	switch {
	case current == value: // no-op
		gas += params.WarmStorageReadCostEIP2929
	case current == original && original == (common.Hash{}): // create slot
		gas += params.SstoreSetGasEIP2200
	case current == original: // overwrite clean slot
		gas += params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929
		if value == (common.Hash{}) {
			db.refund += params.SstoreClearsScheduleRefundEIP3529
		}
	default: // dirty slot
		gas += params.WarmStorageReadCostEIP2929
	}
	slot.current = value
	return gas
}

// Balance implements Host.
func (db *MemoryDb) Balance(addr common.Address) (*uint256.Int, uint64) {
	gas := db.touchAccount(addr)
	if acc := db.accounts[addr]; acc != nil {
		return acc.balance.Clone(), gas
	}
	return new(uint256.Int), gas
}

// CodeSize implements Host.
func (db *MemoryDb) CodeSize(addr common.Address) (uint64, uint64) {
	gas := db.touchAccount(addr)
	if acc := db.accounts[addr]; acc != nil {
		return uint64(len(acc.code)), gas
	}
	return 0, gas
}

// CodeHash implements Host. Non-existent accounts hash to zero, empty
// accounts to the empty-code hash.
func (db *MemoryDb) CodeHash(addr common.Address) (common.Hash, uint64) {
	gas := db.touchAccount(addr)
	acc := db.accounts[addr]
	if acc == nil {
		return common.Hash{}, gas
	}
	return crypto.Keccak256Hash(acc.code), gas
}

// Code implements Host.
func (db *MemoryDb) Code(addr common.Address) ([]byte, uint64) {
	gas := db.touchAccount(addr)
	if acc := db.accounts[addr]; acc != nil {
		return acc.code, gas
	}
	return nil, gas
}

// BlockHash implements Host; range checks happen in the syscall layer.
func (db *MemoryDb) BlockHash(number uint64) common.Hash {
	return db.blockHashes[number]
}

// Call implements Host. The charge covers the access cost plus value
// transfer and new-account surcharges; execution of the callee is delegated
// to CallFn when present.
func (db *MemoryDb) Call(p CallParams) CallResult {
	gas := db.touchAccount(p.Address)
	transfersValue := p.Value != nil && !p.Value.IsZero()
	if transfersValue {
		gas += params.CallValueTransferGas
		if db.accounts[p.Address] == nil {
			gas += params.CallNewAccountGas
		}
		// The stipend is free gas for the callee, not a caller charge.
	}
	if transfersValue {
		caller := db.ensure(p.Caller)
		callee := db.ensure(p.Address)
		if caller.balance.Lt(p.Value) {
			return CallResult{Success: false, GasCost: gas}
		}
		caller.balance.Sub(caller.balance, p.Value)
		callee.balance.Add(callee.balance, p.Value)
	}
	if db.CallFn != nil {
		res := db.CallFn(p)
		res.GasCost += gas
		return res
	}
	return CallResult{Success: true, GasCost: gas}
}
