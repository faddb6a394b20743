package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const minVehicleYear = 1900

// VehicleStore defines the interface the vehicle handlers depend on.
type VehicleStore interface {
	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	ListVehicles(ctx context.Context, userID uuid.UUID) ([]*models.Vehicle, error)
	GetVehicle(ctx context.Context, id, userID uuid.UUID) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, v *models.Vehicle) error
	DeleteVehicle(ctx context.Context, id, userID uuid.UUID) error
}

type vehicleRequest struct {
	Year     int     `json:"year"`
	Make     string  `json:"make"`
	Model    string  `json:"model"`
	Trim     *string `json:"trim"`
	VIN      *string `json:"vin"`
	Mileage  *int    `json:"mileage"`
	Nickname *string `json:"nickname"`
}

func (req *vehicleRequest) validate(now time.Time) error {
	req.Make = strings.TrimSpace(req.Make)
	req.Model = strings.TrimSpace(req.Model)
	if req.Year == 0 || req.Make == "" || req.Model == "" {
		return errors.New("year, make and model are required")
	}
	if req.Year < minVehicleYear || req.Year > now.Year()+1 {
		return fmt.Errorf("year must be between %d and %d", minVehicleYear, now.Year()+1)
	}
	if req.Mileage != nil && *req.Mileage < 0 {
		return errors.New("mileage must not be negative")
	}
	req.Trim = optional(req.Trim, false)
	req.VIN = optional(req.VIN, true)
	req.Nickname = optional(req.Nickname, false)
	return nil
}

// optional trims s and maps blank values to nil.
func optional(s *string, upper bool) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	if upper {
		v = strings.ToUpper(v)
	}
	return &v
}

func decodeVehicle(w http.ResponseWriter, r *http.Request) (*vehicleRequest, bool) {
	var req vehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return nil, false
	}
	if err := req.validate(time.Now()); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}
	return &req, true
}

func vehicleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "vehicleID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid vehicle ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// NewListVehiclesHandler returns an http.HandlerFunc for GET /vehicles.
func NewListVehiclesHandler(s VehicleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}
		vs, err := s.ListVehicles(r.Context(), caller.ID)
		if err != nil {
			internalError(w, "list vehicles", err)
			return
		}
		response.JSON(w, vs)
	}
}

// NewCreateVehicleHandler returns an http.HandlerFunc for POST /vehicles.
func NewCreateVehicleHandler(s VehicleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}
		req, ok := decodeVehicle(w, r)
		if !ok {
			return
		}

		now := time.Now().UTC()
		v := &models.Vehicle{
			ID:        uuid.New(),
			UserID:    caller.ID,
			Year:      req.Year,
			Make:      req.Make,
			Model:     req.Model,
			Trim:      req.Trim,
			VIN:       req.VIN,
			Mileage:   req.Mileage,
			Nickname:  req.Nickname,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateVehicle(r.Context(), v); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "CONFLICT", "A vehicle with this VIN already exists", nil)
				return
			}
			internalError(w, "create vehicle", err)
			return
		}
		response.Created(w, v)
	}
}

// NewUpdateVehicleHandler returns an http.HandlerFunc for PUT /vehicles/{vehicleID}.
func NewUpdateVehicleHandler(s VehicleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}
		id, ok := vehicleID(w, r)
		if !ok {
			return
		}
		req, ok := decodeVehicle(w, r)
		if !ok {
			return
		}

		existing, err := s.GetVehicle(r.Context(), id, caller.ID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Vehicle not found", nil)
			return
		}
		if err != nil {
			internalError(w, "get vehicle", err)
			return
		}

		existing.Year = req.Year
		existing.Make = req.Make
		existing.Model = req.Model
		existing.Trim = req.Trim
		existing.VIN = req.VIN
		existing.Mileage = req.Mileage
		existing.Nickname = req.Nickname
		existing.UpdatedAt = time.Now().UTC()

		switch err := s.UpdateVehicle(r.Context(), existing); {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Vehicle not found", nil)
		case errors.Is(err, store.ErrDuplicateKey):
			response.Error(w, http.StatusConflict, "CONFLICT", "A vehicle with this VIN already exists", nil)
		case err != nil:
			internalError(w, "update vehicle", err)
		default:
			response.JSON(w, existing)
		}
	}
}

// NewDeleteVehicleHandler returns an http.HandlerFunc for DELETE /vehicles/{vehicleID}.
func NewDeleteVehicleHandler(s VehicleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := requireCaller(w, r)
		if caller == nil {
			return
		}
		id, ok := vehicleID(w, r)
		if !ok {
			return
		}

		err := s.DeleteVehicle(r.Context(), id, caller.ID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Vehicle not found", nil)
			return
		}
		if err != nil {
			internalError(w, "delete vehicle", err)
			return
		}
		response.NoContent(w)
	}
}
