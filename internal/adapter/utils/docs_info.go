package utils

//run redis
//docker run -p 6379:6379 -d redis

//engine sidecar (http engine kind) listens on ENGINE_URL, default 127.0.0.1:5001
//ENGINE_KIND=gemini GEMINI_API_KEY=... switches to the hosted model instead

//swagger init
//swag init -g cmd/api/main.go --parseDependency --parseInternal --dir ./ --output ./cmd/api/docs
