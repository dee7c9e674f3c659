/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "GroupStore"

// ErrNoToken is returned when no sync token is stored for a backend.
var ErrNoToken = errors.New("no sync token stored")

// TokenStore abstracts the OS keyring so tests can stub it.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

var tokenStore TokenStore = osKeyring{}

func tokenKey(backendID string) string { return "sync:" + strings.TrimSpace(backendID) }

// SyncToken returns the credential stored for the sync backend.
func SyncToken(backendID string) (string, error) {
	if strings.TrimSpace(backendID) == "" {
		return "", errors.New("sync backend id is required")
	}
	tok, err := tokenStore.Get(keyringService, tokenKey(backendID))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	return tok, err
}

// SetSyncToken stores token for the sync backend. An empty token deletes it.
func SetSyncToken(backendID, token string) error {
	if strings.TrimSpace(backendID) == "" {
		return errors.New("sync backend id is required")
	}
	if token == "" {
		err := tokenStore.Delete(keyringService, tokenKey(backendID))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return tokenStore.Set(keyringService, tokenKey(backendID), token)
}
