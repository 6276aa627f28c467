package semem

import (
	"os"
	"strconv"

	"github.com/danja/semem/types"
)

// ConfigFromEnv builds a Config starting from types.DefaultConfig and
// overriding fields from environment variables, mirroring the teacher
// SDK's plain os.Getenv convention rather than a struct-tag config
// library: SEMEM_DIMENSION, SEMEM_STORAGE (json|sparql|cachedSparql),
// SEMEM_JSON_PATH, SEMEM_SPARQL_QUERY_ENDPOINT,
// SEMEM_SPARQL_UPDATE_ENDPOINT, SEMEM_SPARQL_GRAPH, SEMEM_SPARQL_USER,
// SEMEM_SPARQL_PASSWORD.
func ConfigFromEnv() types.Config {
	cfg := types.DefaultConfig()

	if v := os.Getenv("SEMEM_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dimension = n
		}
	}
	if v := os.Getenv("SEMEM_STORAGE"); v != "" {
		cfg.StorageType = types.StorageType(v)
	}
	if v := os.Getenv("SEMEM_JSON_PATH"); v != "" {
		cfg.JSON.Path = v
	}
	if v := os.Getenv("SEMEM_SPARQL_QUERY_ENDPOINT"); v != "" {
		cfg.SPARQL.QueryEndpoint = v
	}
	if v := os.Getenv("SEMEM_SPARQL_UPDATE_ENDPOINT"); v != "" {
		cfg.SPARQL.UpdateEndpoint = v
	}
	if v := os.Getenv("SEMEM_SPARQL_GRAPH"); v != "" {
		cfg.SPARQL.Graph = v
	}
	if v := os.Getenv("SEMEM_SPARQL_USER"); v != "" {
		cfg.SPARQL.Auth.User = v
	}
	if v := os.Getenv("SEMEM_SPARQL_PASSWORD"); v != "" {
		cfg.SPARQL.Auth.Password = v
	}

	return cfg
}
