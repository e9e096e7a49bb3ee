/*
 * Stronghold
 * Copyright (C) 2023  Stronghold Security, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package types

// SecretData is the get_data response. Clients pick the decryption path
// based solely on Encrypted and EncryptOptions.EncryptType.
type SecretData struct {
	// Encrypted reports whether EncryptedData carries an envelope
	// ciphertext. When false, Data holds the plaintext object.
	Encrypted bool `json:"encrypted"`
	// Data is the plaintext payload, set only when Encrypted is false.
	Data map[string]any `json:"data,omitempty"`
	// EncryptOptions describes how to unwrap and open EncryptedData.
	EncryptOptions *EncryptOptions `json:"encrypt_options,omitempty"`
	// EncryptedData is the base64 AEAD ciphertext.
	EncryptedData string `json:"encrypted_data,omitempty"`
}
