package api

import (
	"net/http"

	"github.com/gabrielabritta/argo/directory"
	"github.com/gabrielabritta/argo/errors"
)

func (s *Server) handleListSubstations(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Registry.ListSubstations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if subs == nil {
		subs = []directory.Substation{}
	}
	s.writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleCreateSubstation(w http.ResponseWriter, r *http.Request) {
	var p directory.SubstationParams
	if err := decodeBody(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	sub, err := s.deps.Registry.CreateSubstation(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleGetSubstation(w http.ResponseWriter, r *http.Request) {
	sub, err := s.deps.Registry.GetSubstationByIdentifier(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

// updateSubstationRequest carries the mutable substation fields. Absent
// fields keep their stored value.
type updateSubstationRequest struct {
	Name        *string  `json:"name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	IsActive    *bool    `json:"is_active"`
	Description *string  `json:"description"`
	Voltage     *string  `json:"voltage"`
}

func (s *Server) handleUpdateSubstation(w http.ResponseWriter, r *http.Request) {
	var req updateSubstationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sub, err := s.deps.Registry.GetSubstationByIdentifier(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Latitude != nil {
		sub.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		sub.Longitude = *req.Longitude
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Voltage != nil {
		sub.Voltage = *req.Voltage
	}

	updated, err := s.deps.Registry.UpdateSubstation(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSubstation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.DeleteSubstation(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRovers(w http.ResponseWriter, r *http.Request) {
	rovers, err := s.deps.Registry.ListRovers(r.Context(), r.URL.Query().Get("substation"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rovers == nil {
		rovers = []directory.Rover{}
	}
	s.writeJSON(w, http.StatusOK, rovers)
}

// createRoverRequest names the owning substation by identifier rather than
// primary key.
type createRoverRequest struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	Substation string `json:"substation"`
}

func (s *Server) handleCreateRover(w http.ResponseWriter, r *http.Request) {
	var req createRoverRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Substation == "" {
		s.writeError(w, errors.WrapInvalid(errors.ErrInvalidConfig,
			"APIServer", "handleCreateRover", "substation is required"))
		return
	}
	sub, err := s.deps.Registry.GetSubstationByIdentifier(r.Context(), req.Substation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rover, err := s.deps.Registry.CreateRover(r.Context(), directory.RoverParams{
		SubstationID: sub.ID,
		Identifier:   req.Identifier,
		Name:         req.Name,
		Model:        req.Model,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rover)
}

func (s *Server) handleGetRover(w http.ResponseWriter, r *http.Request) {
	rover, err := s.deps.Registry.GetRoverByIdentifier(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rover)
}

type updateRoverRequest struct {
	Name     *string `json:"name"`
	Model    *string `json:"model"`
	IsActive *bool   `json:"is_active"`
}

func (s *Server) handleUpdateRover(w http.ResponseWriter, r *http.Request) {
	var req updateRoverRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rover, err := s.deps.Registry.GetRoverByIdentifier(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name != nil {
		rover.Name = *req.Name
	}
	if req.Model != nil {
		rover.Model = *req.Model
	}
	if req.IsActive != nil {
		rover.IsActive = *req.IsActive
	}

	updated, err := s.deps.Registry.UpdateRover(r.Context(), rover)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRover(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.DeleteRover(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignSubstationRequest struct {
	Substation string `json:"substation"`
}

func (s *Server) handleAssignSubstation(w http.ResponseWriter, r *http.Request) {
	var req assignSubstationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Substation == "" {
		s.writeError(w, errors.WrapInvalid(errors.ErrInvalidConfig,
			"APIServer", "handleAssignSubstation", "substation is required"))
		return
	}
	rover, err := s.deps.Registry.AssignSubstation(r.Context(), r.PathValue("id"), req.Substation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rover)
}
