package database

var ParsePoolConfig = parsePoolConfig
