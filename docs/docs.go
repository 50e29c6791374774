// Package docs registers the swagger document served under /swagger/.
// Regenerate with: swag init -g cmd/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/tournaments": {
            "get": {"tags": ["tournaments"], "summary": "Список турниров", "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["tournaments"], "summary": "Создать турнир", "responses": {"201": {"description": "Created"}}}
        },
        "/tournaments/{tournamentID}": {
            "get": {"tags": ["tournaments"], "summary": "Получить турнир", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/tournaments/{tournamentID}/entries": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["entries"], "summary": "Войти в турнир", "responses": {"201": {"description": "Created"}, "402": {"description": "Payment Required"}, "409": {"description": "Conflict"}}}
        },
        "/tournaments/{tournamentID}/entries/me": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["entries"], "summary": "Моя заявка в турнире", "responses": {"200": {"description": "OK"}}},
            "delete": {"security": [{"BearerAuth": []}], "tags": ["entries"], "summary": "Выйти из турнира до старта", "responses": {"204": {"description": "No Content"}}}
        },
        "/tournaments/{tournamentID}/scores": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["scores"], "summary": "Отправить результат раунда", "responses": {"200": {"description": "OK"}}}
        },
        "/tournaments/{tournamentID}/leaderboard": {
            "get": {"tags": ["scores"], "summary": "Таблица лидеров", "responses": {"200": {"description": "OK"}}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Skill Tournaments API",
	Description:      "Tournament lifecycle, entry admission, scores and settlement.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
