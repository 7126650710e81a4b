package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter собирает все HTTP маршруты сервиса
func NewRouter(api *APIHandler, ws *WSHandler, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/ws", ws).Methods("GET")
	router.Handle("/metrics", metrics).Methods("GET")
	api.Register(router)
	return router
}
