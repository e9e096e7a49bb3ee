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

import "github.com/gravitational/trace"

const (
	// EncryptTypeAWSKMS selects the AWS KMS key manager.
	EncryptTypeAWSKMS = "AWS_KMS"

	// EncryptAlgorithmAES256GCM is the only AEAD algorithm currently
	// produced by the envelope engine.
	EncryptAlgorithmAES256GCM = "AES_256_GCM"
)

// EncryptOptions describes how an encrypted payload was produced. The
// options are persisted on the metadata record and handed back verbatim
// on get_data so the caller can unwrap the data key and open the
// ciphertext. All binary fields are base64 encoded.
type EncryptOptions struct {
	// EncryptType names the KMS family that wrapped the data key.
	EncryptType string `json:"encrypt_type,omitempty" bson:"encrypt_type,omitempty" yaml:"encrypt_type,omitempty"`
	// EncryptAlgorithm is the AEAD algorithm of the ciphertext.
	EncryptAlgorithm string `json:"encrypt_algorithm,omitempty" bson:"encrypt_algorithm,omitempty" yaml:"encrypt_algorithm,omitempty"`
	// Nonce is the AEAD nonce, 12 random bytes.
	Nonce string `json:"nonce,omitempty" bson:"nonce,omitempty" yaml:"nonce,omitempty"`
	// EncryptContext is the canonical encryption context bound into the
	// AEAD as associated data.
	EncryptContext string `json:"encrypt_context,omitempty" bson:"encrypt_context,omitempty" yaml:"encrypt_context,omitempty"`
	// EncryptDataKey is the KMS-wrapped data key.
	EncryptDataKey string `json:"encrypt_data_key,omitempty" bson:"encrypt_data_key,omitempty" yaml:"encrypt_data_key,omitempty"`
	// TrustedEncryptDataKey carries the wrapped data key of the trusted
	// parent secret, when the record has one.
	TrustedEncryptDataKey string `json:"trusted_encrypted_data_key,omitempty" bson:"trusted_encrypted_data_key,omitempty" yaml:"trusted_encrypted_data_key,omitempty"`
}

// Clone returns a deep copy.
func (o *EncryptOptions) Clone() *EncryptOptions {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// CheckAndSetDefaults validates the minimum option set required before
// a record may be flagged encrypted.
func (o *EncryptOptions) CheckAndSetDefaults() error {
	if o == nil {
		return trace.BadParameter("missing encrypt_options on an encrypted record")
	}
	if o.EncryptType == "" {
		o.EncryptType = EncryptTypeAWSKMS
	}
	if o.EncryptAlgorithm == "" {
		o.EncryptAlgorithm = EncryptAlgorithmAES256GCM
	}
	return nil
}
