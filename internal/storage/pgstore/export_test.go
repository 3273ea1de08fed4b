package pgstore

var MapError = mapError
