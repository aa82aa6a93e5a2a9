// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// Redis is nil when no presence mirror is configured. Core is allocated by
// ConnectDB and filled in by Startup so that BuildHandler and Shutdown see
// the same long-lived collaborators.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database
	Redis         *redis.Client
	Core          *Core
}
