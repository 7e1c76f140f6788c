// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couchtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Credentials of the server started by StartCouchDB.
const (
	ContainerUser     = "admin"
	ContainerPassword = "abc123"
)

// DefaultImage is the CouchDB image used by StartCouchDB.
const DefaultImage = "couchdb:3.3.3"

var startOnce = sync.OnceValues(func() (string, error) {
	return startContainer(context.Background(), DefaultImage)
})

// StartCouchDB starts a real CouchDB server in a container, once per test
// binary, and returns its URL, without credentials. The test is skipped
// unless USETC is set.
func StartCouchDB(t *testing.T) string {
	t.Helper()
	if os.Getenv("USETC") == "" {
		t.Skip("USETC not set, skipping testcontainers")
	}
	url, err := startOnce()
	if err != nil {
		t.Fatal(err)
	}
	return url
}

func startContainer(ctx context.Context, image string) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5984/tcp"},
		WaitingFor:   wait.ForHTTP("/").WithPort("5984/tcp").WithStartupTimeout(120 * time.Second),
		Env: map[string]string{
			"COUCHDB_USER":     ContainerUser,
			"COUCHDB_PASSWORD": ContainerPassword,
		},
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "5984/tcp")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%s/", host, port.Port()), nil
}
