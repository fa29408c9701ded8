package bdecrypto

import (
	"encoding/binary"
	"fmt"
)

// diffuserMinValues is the smallest number of 32-bit words the diffuser
// passes can operate over (libbde_diffuser_a_decrypt/_b_decrypt reject
// fewer than 8).
const diffuserMinValues = 8

func rotl32(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

// diffuserADecrypt/diffuserAEncrypt and diffuserBDecrypt/diffuserBEncrypt
// operate on the sector viewed as an
// array of little-endian uint32 words, ported bit-exact from
// libbde_diffuser.c (libbde_diffuser_a_decrypt / _a_encrypt /
// _b_decrypt / _b_encrypt). The index update order (several ++ before a
// conditional %N reduction, not every step) matches the C reference
// exactly; reordering it produces a different, incompatible transform.

func diffuserADecrypt(v []uint32) {
	n := len(v)
	for iter := 0; iter < 5; iter++ {
		// i1 is advanced before each write, so it starts one below word 0.
		i1, i2, i3 := -1, n-2, n-5
		for i1 < n-2 {
			i1++
			v[i1] += v[i2] ^ rotl32(v[i3], 9)
			i2++
			i3++
			if i3 >= n {
				i3 -= n
			}

			i1++
			v[i1] += v[i2] ^ v[i3]
			i2++
			i3++
			if i2 >= n {
				i2 -= n
			}

			i1++
			v[i1] += v[i2] ^ rotl32(v[i3], 13)
			i2++
			i3++

			i1++
			v[i1] += v[i2] ^ v[i3]
			i2++
			i3++
		}
	}
}

func diffuserAEncrypt(v []uint32) {
	n := len(v)
	for iter := 0; iter < 5; iter++ {
		i1, i2, i3 := 0, n-2, n-5
		for i1 < n-1 {
			i1++
			v[i1] -= v[i2] ^ rotl32(v[i3], 9)
			i2++
			i3++
			if i3 >= n {
				i3 -= n
			}

			i1++
			v[i1] -= v[i2] ^ v[i3]
			i2++
			i3++
			if i2 >= n {
				i2 -= n
			}

			i1++
			v[i1] -= v[i2] ^ rotl32(v[i3], 13)
			i2++
			i3++

			i1++
			v[i1] -= v[i2] ^ v[i3]
			i2++
			i3++
		}
	}
}

func diffuserBDecrypt(v []uint32) {
	n := len(v)
	for iter := 0; iter < 3; iter++ {
		// i1 is advanced before each write, so it starts one below word 0.
		i1, i2, i3 := -1, 2, 5
		for i1 < n-2 {
			i1++
			v[i1] += v[i2] ^ v[i3]
			i2++
			i3++

			i1++
			v[i1] += v[i2] ^ rotl32(v[i3], 10)
			i2++
			i3++
			if i2 >= n {
				i2 -= n
			}

			i1++
			v[i1] += v[i2] ^ v[i3]
			i2++
			i3++
			if i3 >= n {
				i3 -= n
			}

			i1++
			v[i1] += v[i2] ^ rotl32(v[i3], 25)
			i2++
			i3++
		}
	}
}

func diffuserBEncrypt(v []uint32) {
	n := len(v)
	for iter := 0; iter < 3; iter++ {
		i1, i2, i3 := 0, 2, 5
		for i1 < n-1 {
			i1++
			v[i1] -= v[i2] ^ v[i3]
			i2++
			i3++

			i1++
			v[i1] -= v[i2] ^ rotl32(v[i3], 10)
			i2++
			i3++
			if i2 >= n {
				i2 -= n
			}

			i1++
			v[i1] -= v[i2] ^ v[i3]
			i2++
			i3++
			if i3 >= n {
				i3 -= n
			}

			i1++
			v[i1] -= v[i2] ^ rotl32(v[i3], 25)
			i2++
			i3++
		}
	}
}

func bytesToUint32LE(data []byte) []uint32 {
	v := make([]uint32, len(data)/4)
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return v
}

func uint32LEToBytes(v []uint32, data []byte) {
	for i, word := range v {
		binary.LittleEndian.PutUint32(data[i*4:], word)
	}
}

// DiffuserDecrypt reverses the Elephant Diffuser over data in place:
// Diffuser-B^-1 followed by Diffuser-A^-1, per libbde_diffuser_decrypt.
func DiffuserDecrypt(data []byte) error {
	if len(data) == 0 || len(data)%4 != 0 {
		return fmt.Errorf("bdecrypto: diffuser data size %d not a multiple of 4", len(data))
	}
	if len(data)/4 < diffuserMinValues {
		return fmt.Errorf("bdecrypto: diffuser data too small (%d bytes)", len(data))
	}
	v := bytesToUint32LE(data)
	diffuserBDecrypt(v)
	diffuserADecrypt(v)
	uint32LEToBytes(v, data)
	return nil
}

// DiffuserEncrypt applies the Elephant Diffuser over data in place:
// Diffuser-A followed by Diffuser-B, the inverse ordering of decrypt.
func DiffuserEncrypt(data []byte) error {
	if len(data) == 0 || len(data)%4 != 0 {
		return fmt.Errorf("bdecrypto: diffuser data size %d not a multiple of 4", len(data))
	}
	if len(data)/4 < diffuserMinValues {
		return fmt.Errorf("bdecrypto: diffuser data too small (%d bytes)", len(data))
	}
	v := bytesToUint32LE(data)
	diffuserAEncrypt(v)
	diffuserBEncrypt(v)
	uint32LEToBytes(v, data)
	return nil
}
